// Package msp defines the MultiWii Serial Protocol command codes and the wire
// payloads this module encodes and decodes.
//
// All multi-byte fields are little-endian. Only the commands needed for mode
// range configuration and dataflash retrieval are modelled.
package msp

import "errors"

// Command codes as defined by INAV's msp_protocol.h.
const (
	CmdModeRanges       uint16 = 34 // MSP_MODE_RANGES
	CmdSetModeRange     uint16 = 35 // MSP_SET_MODE_RANGE
	CmdDataflashSummary uint16 = 70 // MSP_DATAFLASH_SUMMARY
	CmdDataflashRead    uint16 = 71 // MSP_DATAFLASH_READ
)

// ErrShortPayload is returned when a reply is smaller than its fixed layout.
var ErrShortPayload = errors.New("payload too short")

// CommandName returns a human readable name for cmd.
func CommandName(cmd uint16) string {
	switch cmd {
	case CmdModeRanges:
		return "MSP_MODE_RANGES"
	case CmdSetModeRange:
		return "MSP_SET_MODE_RANGE"
	case CmdDataflashSummary:
		return "MSP_DATAFLASH_SUMMARY"
	case CmdDataflashRead:
		return "MSP_DATAFLASH_READ"
	default:
		return "unknown"
	}
}
