package client

// Status mirrors the agent's /status response.
type Status struct {
	RunID          string `json:"run_id"`
	TrackedObjects int    `json:"tracked_objects"`
	ActiveDaemons  int    `json:"active_daemons"`
}

// DaemonState mirrors one daemon entry in the /memories response.
type DaemonState struct {
	ID        string `json:"id"`
	Running   bool   `json:"running"`
	Stopping  string `json:"stopping,omitempty"`
	Cancelled bool   `json:"cancelled"`
}

// ObjectMemory mirrors one object entry in the /memories response.
type ObjectMemory struct {
	Key            string        `json:"key"`
	NoticedByList  bool          `json:"noticed_by_listing"`
	ForeverStopped []string      `json:"forever_stopped,omitempty"`
	Daemons        []DaemonState `json:"daemons"`
}
