// Package storage wires the result archive to its minio backend
package storage

import (
	"log"
	"time"

	"github.com/ferrywell/cutout/internal/storage/miniostorage"
	"github.com/wb-go/wbf/config"
)

// NewResultArchive keeps retrying the minio connection until it is up -
// the archive is required infrastructure, not best-effort.
func NewResultArchive(cfg *config.Config, delay time.Duration) *miniostorage.MinioResultArchive {
	for {
		log.Println("Connecting to result-archive storage...")
		client, err := miniostorage.NewMinioClient(cfg)
		if err != nil {
			log.Printf("Failed to init connection to result-archive: %v\nNext retry in %v...", err, delay)
			time.Sleep(delay)
			continue
		}
		log.Println("Successfully connected result-archive storage!")
		return client
	}
}
