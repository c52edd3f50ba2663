package store

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Name: "bridged_store_disk_bytes",
	Help: "Approximate on-disk size of the event store.",
}, func() float64 {
	if dbPath == "" {
		return 0
	}
	var total int64
	_ = filepath.Walk(dbPath, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return float64(total)
})
