package app

import (
	"fmt"
	"os"

	"github.com/adhocore/gronx"

	"bridged/pkg/config"
	"bridged/pkg/coordinator"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, BRIDGED_DB_PATH env, or storage.db_path in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	co := eff.Config.Coordinator
	if co.Enabled {
		if co.StartupMode != coordinator.StartEnd && co.StartupMode != coordinator.StartResume {
			return fmt.Errorf("coordinator.startup_mode must be %q or %q, got %q",
				coordinator.StartEnd, coordinator.StartResume, co.StartupMode)
		}
		for id, ac := range co.Adapters {
			if len(ac.Command) == 0 {
				return fmt.Errorf("coordinator.adapters[%s].command must not be empty", id)
			}
		}
	}

	if eff.Config.Retention.Enabled && eff.Config.Retention.Cron != "" {
		if !gronx.IsValid(eff.Config.Retention.Cron) {
			return fmt.Errorf("invalid retention.cron expression: %s", eff.Config.Retention.Cron)
		}
	}
	return nil
}
