//go:build !whispercpp

package main

import (
	"errors"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// registerNativeProviders registers a whisper-native factory that explains
// how to get the real one.
func registerNativeProviders(reg *config.Registry) {
	reg.RegisterSTT("whisper-native", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, errors.New("whisper-native requires a build with -tags whispercpp")
	})
}
