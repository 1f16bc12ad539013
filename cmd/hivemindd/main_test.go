package main

import (
	"errors"
	"testing"

	"github.com/spf13/viper"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil error succeeds", err: nil, want: exitOK},
		{
			name: "invalid parameters is a configuration error",
			err:  model.NewFault(model.FaultInvalidParameters, "bad flag", nil),
			want: exitConfigError,
		},
		{
			name: "invalid category is a configuration error",
			err:  model.NewFault(model.FaultInvalidCategory, "nope", nil),
			want: exitConfigError,
		},
		{
			name: "storage unavailable is transient I/O",
			err:  model.NewFault(model.FaultStorageUnavailable, "db down", nil),
			want: exitTransientIO,
		},
		{
			name: "peer unreachable is transient I/O",
			err:  model.NewFault(model.FaultPeerUnreachable, "peer down", nil),
			want: exitTransientIO,
		},
		{
			name: "unmet dependency falls through to fatal invariant",
			err:  model.NewFault(model.FaultUnmetDependency, "missing dep", nil),
			want: exitFatalInvariant,
		},
		{
			name: "non-fault error is treated as fatal invariant",
			err:  errors.New("boom"),
			want: exitFatalInvariant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoadConfigAppliesDefaultsWithoutConfigFile(t *testing.T) {
	v := viper.New()
	config.BindDefaults(v)

	cfg, err := loadConfig(v, "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Transport.Addr != ":8999" {
		t.Errorf("Transport.Addr = %q, want %q", cfg.Transport.Addr, ":8999")
	}
	if cfg.Sync.ListenAddr != ":8998" {
		t.Errorf("Sync.ListenAddr = %q, want %q", cfg.Sync.ListenAddr, ":8998")
	}
}

func TestLoadConfigRejectsMissingConfigFile(t *testing.T) {
	v := viper.New()
	config.BindDefaults(v)

	if _, err := loadConfig(v, "/nonexistent/path/to/hivemind.yaml"); err == nil {
		t.Fatal("loadConfig() expected an error for a missing config file, got nil")
	} else if f, ok := model.AsFault(err); !ok || f.Kind != model.FaultInvalidParameters {
		t.Errorf("loadConfig() error = %v, want a FaultInvalidParameters fault", err)
	}
}
