package image_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/dockworker/internal/image"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want string
	}{
		{name: "official image", ref: "ubuntu:20.04", want: "ubuntu:20.04"},
		{name: "no tag", ref: "ubuntu", want: "ubuntu"},
		{name: "namespaced", ref: "bitnami/redis:7.2", want: "redis:7.2"},
		{name: "fully qualified", ref: "docker.io/library/nginx:1.27", want: "nginx:1.27"},
		{name: "other registry", ref: "ghcr.io/org/team/tool:v1", want: "tool:v1"},
		{name: "registry with port", ref: "localhost:5000/app:dev", want: "app:dev"},
		{
			name: "digest",
			ref:  "alpine@sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			want: "alpine@sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{name: "surrounding spaces", ref: "  python:3.10.14-slim-bullseye ", want: "python:3.10.14-slim-bullseye"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := image.Normalize(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	refs := []string{
		"ubuntu:20.04",
		"registry.cn-heyuan.aliyuncs.com/leo03w/ubuntu:20.04",
		"quay.io/prometheus/node-exporter:v1.8.0",
		"gcr.io/distroless/static",
	}
	for _, ref := range refs {
		once, err := image.Normalize(ref)
		require.NoError(t, err)
		twice, err := image.Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalizing %q twice changed the result", ref)
	}
}

func TestNormalize_RejectsInvalidReferences(t *testing.T) {
	for _, ref := range []string{"", "   ", "UPPER/Case:tag", "bad image name"} {
		_, err := image.Normalize(ref)
		assert.Error(t, err, "expected error for %q", ref)
	}
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "registry.cn-heyuan.aliyuncs.com/leo03w/ubuntu:20.04",
		image.FullName("registry.cn-heyuan.aliyuncs.com", "leo03w", "ubuntu:20.04"))
	assert.Equal(t, "registry.example.com/ubuntu:20.04",
		image.FullName("registry.example.com/", "", "ubuntu:20.04"))
}
