// Package main is the slotboard FFI bridge for mobile hosts.
// Build as a shared library: libslotboard.so (Android) / slotboard.framework (iOS).
// Every returned *C.char must be released with FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"unsafe"

	"github.com/kimhsiao/slotboard/internal/app"
	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/logging"
)

var version = "dev"

var (
	mu       sync.Mutex
	instance *app.App
	lastErr  string
	lastMu   sync.RWMutex
)

//export Init
// Init loads the configuration at configPath (empty for defaults plus environment) and
// starts the engine. It returns 0 on success, -1 on failure (see GetLastError).
func Init(configPath *C.char) C.int {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return 0
	}

	cfg, err := config.Load(C.GoString(configPath))
	if err != nil {
		setLastError(fmt.Sprintf("Failed to load config: %v", err))
		return -1
	}
	if logger, err := logging.New(cfg.Log); err == nil {
		logging.Init(logger)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, version)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to initialize: %v", err))
		return -1
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		setLastError(fmt.Sprintf("Failed to start: %v", err))
		return -1
	}

	instance = a
	return 0
}

//export Cleanup
// Cleanup stops background work and closes storage.
func Cleanup() {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		instance.Close()
		instance = nil
	}
	logging.Sync()
}

//export GetLastError
// GetLastError returns the last error message.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()
	return C.CString(lastErr)
}

//export FreeString
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

func current() *app.App {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		setLastError("Engine not initialized")
	}
	return instance
}

// jsonResult serializes v, or records the failure and returns nil.
func jsonResult(v interface{}) *C.char {
	data, err := json.Marshal(v)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to serialize: %v", err))
		return nil
	}
	return C.CString(string(data))
}

func main() {
	// Required for c-shared build mode; never executed.
}
