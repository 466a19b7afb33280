package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelstream.ai/internal/persistence/mirror"
)

// buildMirror returns nil when VC_MIRROR is unset.
func buildMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("VC_MIRROR", false) {
		return nil, nil
	}

	cfg := mirror.MinioConfig{
		Endpoint:  strings.TrimSpace(os.Getenv("VC_MIRROR_ENDPOINT")),
		Bucket:    strings.TrimSpace(os.Getenv("VC_MIRROR_BUCKET")),
		AccessKey: strings.TrimSpace(os.Getenv("VC_MIRROR_ACCESS_KEY_ID")),
		SecretKey: strings.TrimSpace(os.Getenv("VC_MIRROR_SECRET_ACCESS_KEY")),
		Region:    strings.TrimSpace(os.Getenv("VC_MIRROR_REGION")),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("VC_MIRROR=true but VC_MIRROR_ENDPOINT/VC_MIRROR_BUCKET/VC_MIRROR_ACCESS_KEY_ID/VC_MIRROR_SECRET_ACCESS_KEY are not fully set")
	}
	up, err := mirror.NewMinio(cfg)
	if err != nil {
		return nil, err
	}

	opts := mirror.Options{
		Workers:       envInt("VC_MIRROR_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("VC_MIRROR_QUEUE", 2048),
		EnqueueWait:   time.Duration(envInt("VC_MIRROR_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
	}
	logger.Printf("mirror enabled endpoint=%s bucket=%s workers=%d", cfg.Endpoint, cfg.Bucket, opts.Workers)
	return mirror.New(up, dataDir, os.Getenv("VC_MIRROR_PREFIX"), opts, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
