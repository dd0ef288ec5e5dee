package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownHost is returned when no routing rule yields a trusted API host.
var ErrUnknownHost = errors.New("gateway host cannot be resolved")

// Hosts are the two fixed gateway API hosts.
type Hosts struct {
	Default string
	Alt     string
}

// Resolve picks the API host for an instance. The "77" and "71" prefixes are
// authoritative; otherwise the stored host is honoured only when it is one of
// the two known hosts.
func (h Hosts) Resolve(instanceID, storedURL string) (string, error) {
	switch {
	case strings.HasPrefix(instanceID, altHostPrefix):
		return trimHost(h.Alt), nil
	case strings.HasPrefix(instanceID, defaultHostPrefix):
		return trimHost(h.Default), nil
	}

	stored := trimHost(storedURL)
	if stored != "" && (stored == trimHost(h.Default) || stored == trimHost(h.Alt)) {
		return stored, nil
	}
	return "", fmt.Errorf("%w: instance %q, stored host %q", ErrUnknownHost, instanceID, storedURL)
}

func trimHost(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
