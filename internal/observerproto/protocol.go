package observerproto

import "goldprime.ai/internal/game"

// Version is the observer feed version (separate from the TCP game protocol).
const Version = "1.0"

// Server -> Client. Sent every frame; slow subscribers only get the latest.
type FrameMsg struct {
	Type            string `json:"type"` // "FRAME"
	ProtocolVersion string `json:"protocol_version"`
	Frame           uint64 `json:"frame"`
	Digest          string `json:"digest"`

	Clients     int    `json:"clients"`
	Entities    int    `json:"entities"`
	TotalCredit uint64 `json:"total_credit"`
	Honeypot    uint64 `json:"honeypot"`

	Cmds    []game.RecordedCmd   `json:"cmds,omitempty"`
	Events  []game.RecordedEvent `json:"events,omitempty"`
	Leaders []PlayerCredit       `json:"leaders,omitempty"`
}

type PlayerCredit struct {
	Address string `json:"address"`
	Credit  uint64 `json:"credit"`
	Dollars string `json:"dollars"`
}

// HTTP response for GET /admin/v1/state.
type StateResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	Frame           uint64 `json:"frame"`
	Digest          string `json:"digest"`

	Clients      int `json:"clients"`
	UpToDate     int `json:"up_to_date"`
	Entities     int `json:"entities"`
	Players      int `json:"players"`
	PendingCmds  int `json:"pending_cmds"`
	PendingWdraw int `json:"pending_withdrawals"`

	TotalCredit uint64         `json:"total_credit"`
	Honeypot    uint64         `json:"honeypot"`
	Leaders     []PlayerCredit `json:"leaders,omitempty"`
}

// HTTP response for POST /admin/v1/snapshot.
type SnapshotResponse struct {
	Frame  uint64 `json:"frame"`
	Queued bool   `json:"queued"`
}
