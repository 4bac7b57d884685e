//go:build !nortmidi

package main

import _ "github.com/gethiox/seqmidi/internal/pkg/seq/rtmidi"
