package banner

import (
	"fmt"

	"bridged/pkg/config"
)

const banner = `
██████╗ ██████╗ ██╗██████╗  ██████╗ ███████╗██████╗
██╔══██╗██╔══██╗██║██╔══██╗██╔════╝ ██╔════╝██╔══██╗
██████╔╝██████╔╝██║██║  ██║██║  ███╗█████╗  ██║  ██║
██╔══██╗██╔══██╗██║██║  ██║██║   ██║██╔══╝  ██║  ██║
██████╔╝██║  ██║██║██████╔╝╚██████╔╝███████╗██████╔╝
╚═════╝ ╚═╝  ╚═╝╚═╝╚═════╝  ╚═════╝ ╚══════╝╚═════╝
`

// Print renders the startup banner with the effective runtime settings.
func Print(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Storage.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)
	if eff.Config != nil {
		if eff.Config.Coordinator.Enabled {
			fmt.Printf("Coordinator: enabled (%d adapters, startup=%s)\n",
				len(eff.Config.Coordinator.Adapters), eff.Config.Coordinator.StartupMode)
		} else {
			fmt.Println("Coordinator: disabled")
		}
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/threads - Create a thread (JSON: name)")
	fmt.Println("POST /v1/threads/{id}/events - Append an event (JSON: type, from, to, content)")
	fmt.Println("GET  /v1/threads/{id}/events?since=<seq> - Read the log")
	fmt.Println("GET  /v1/threads/{id}/events/stream?since=<seq> - Live tail (SSE)")
	fmt.Println("GET  /v1/threads/{id}/state - Derived participation state")
	fmt.Println("POST /v1/threads/{id}/presence - Report presence")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost:%d/v1/threads' -d '{\"name\":\"planning\"}'\n", portOf(eff))
	fmt.Printf("curl 'http://localhost:%d/v1/threads/<id>/events?since=0'\n", portOf(eff))

	fmt.Println("\n== Logs =======================================================")
}

func portOf(eff config.EffectiveConfigResult) int {
	if eff.Config != nil && eff.Config.Server.Port != 0 {
		return eff.Config.Server.Port
	}
	return 5111
}
