package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/operkit/operkit"
)

// This example loads a TOML config file and prints the effective settings
// using the public operkit facade.
func main() {
	cfgPath := filepath.Join("config", "operkit.toml")
	fc, err := operkit.LoadConfig(cfgPath)
	if err != nil {
		fmt.Println("falling back to defaults:", err)
		fc = operkit.DefaultConfig()
	}
	b, _ := json.MarshalIndent(fc, "", "  ")
	fmt.Println(string(b))
}
