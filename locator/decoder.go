package locator

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
)

// uptimeCutoffMs separates device uptime clocks from unix epoch milliseconds (2001-09-09)
const uptimeCutoffMs = 1_000_000_000_000

// ObservationBatch is one decoded scan report from a collar
type ObservationBatch struct {
	CollarID     string              `json:"collarId,omitempty"`
	TimestampMs  int64               `json:"timestampMs,omitempty"`
	Observations []BeaconObservation `json:"observations"`
}

// wireObservation accepts the field aliases used by the collar firmware
type wireObservation struct {
	BeaconID    string `json:"beaconId"`
	Address     string `json:"address"`
	RSSI        *int   `json:"rssi"`
	TimestampMs int64  `json:"timestampMs"`
	LastSeen    int64  `json:"lastSeen"`
}

type wireEnvelope struct {
	CollarID    string            `json:"collarId"`
	TimestampMs int64             `json:"timestampMs"`
	Timestamp   int64             `json:"timestamp"`
	Beacons     []wireObservation `json:"beacons"`
}

// DecodeObservations decodes a collar scan payload:
// - JSON array of {beaconId, rssi, timestampMs}
// - JSON envelope {collarId, timestampMs, beacons: [...]} as sent by the firmware
// - either of the above zlib-compressed
func DecodeObservations(data []byte) (*ObservationBatch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	if data[0] != '[' && data[0] != '{' {
		inflated, err := inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON or zlib-compressed JSON")
		}
		data = bytes.TrimSpace(inflated)
		if len(data) == 0 {
			return nil, fmt.Errorf("decoded JSON payload is empty")
		}
	}

	var env wireEnvelope
	if data[0] == '[' {
		if err := json.Unmarshal(data, &env.Beacons); err != nil {
			return nil, fmt.Errorf("parsing observation array: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("parsing observation envelope: %w", err)
		}
		if env.Beacons == nil {
			return nil, fmt.Errorf("observation envelope has no beacons field")
		}
	}

	batch := &ObservationBatch{
		CollarID:     env.CollarID,
		TimestampMs:  env.TimestampMs,
		Observations: make([]BeaconObservation, 0, len(env.Beacons)),
	}
	if batch.TimestampMs == 0 {
		batch.TimestampMs = env.Timestamp
	}

	for i, w := range env.Beacons {
		id := w.BeaconID
		if id == "" {
			id = w.Address
		}
		if id == "" {
			return nil, fmt.Errorf("beacons[%d]: missing beaconId", i)
		}
		if w.RSSI == nil {
			return nil, fmt.Errorf("beacons[%d]: missing rssi", i)
		}
		ts := w.TimestampMs
		if ts == 0 {
			ts = w.LastSeen
		}
		if ts == 0 {
			ts = batch.TimestampMs
		}
		batch.Observations = append(batch.Observations, BeaconObservation{
			BeaconID:    id,
			RSSI:        *w.RSSI,
			TimestampMs: ts,
		})
	}

	return batch, nil
}

// Rebase moves the batch onto the receiver's clock.
// Firmware reports device uptime rather than wall time; those timestamps are
// shifted so the batch timestamp becomes nowMs. Samples without any timestamp
// are stamped with nowMs.
func (b *ObservationBatch) Rebase(nowMs int64) {
	ref := b.TimestampMs
	if ref == 0 {
		for _, o := range b.Observations {
			ref = max(ref, o.TimestampMs)
		}
	}

	var offset int64
	if ref > 0 && ref < uptimeCutoffMs {
		offset = nowMs - ref
	}
	if b.TimestampMs < uptimeCutoffMs {
		b.TimestampMs = nowMs
	}
	for i := range b.Observations {
		o := &b.Observations[i]
		switch {
		case o.TimestampMs == 0:
			o.TimestampMs = nowMs
		case o.TimestampMs < uptimeCutoffMs:
			o.TimestampMs += offset
		}
	}
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}

	return decompressed, nil
}
