// FILE: env.go
// Package main – Environment helpers and .env loading for the risk governor.
//
// This file provides:
//   1) Small helpers to read environment variables with sane defaults
//      (strings, ints, floats, bools).
//   2) loadGovEnv(), which hydrates the process environment from ./.env and
//      ../.env via godotenv without overriding variables already exported.
//      Broker credentials stay in the environment; they are never copied
//      into any state file.
//
// The timer (cron/systemd) that invokes ticks needs no shell exports; keep
// editing .env and re-run.
package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// --------- Env helpers (used across files) ---------

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	case "":
		return def
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// --------- .env loader ---------

// loadGovEnv reads .env from "." and ".." into the process environment.
// godotenv.Load never overrides variables that are already set, so exported
// values always win over file values.
func loadGovEnv() {
	for _, base := range []string{".", ".."} {
		_ = godotenv.Load(filepath.Join(base, ".env"))
	}
}
