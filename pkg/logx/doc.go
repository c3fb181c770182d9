// Package logx is cadence's structured logger, a thin layer over zerolog.
//
// Console output is human readable with a short timestamp and file:line
// caller. File output is one JSON object per line. A zero Logger discards
// everything, so components can hold one before logging is configured.
package logx
