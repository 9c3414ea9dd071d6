// Package manifest persists one durable record per finalized recording
// session. Each session is an independent JSON file so corruption of one
// record can never affect its neighbors.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// CurrentVersion is written into every new record. Loads reject records
// from a newer schema.
const CurrentVersion = 1

// ChecksumAlgo is the only supported content digest.
const ChecksumAlgo = "sha256"

// Checksum carries the digest algorithm and hex value of a finished clip.
type Checksum struct {
	Algo  string `json:"algo"`
	Value string `json:"value,omitempty"`
}

// Record is the durable description of one finalized recording. Only the
// Offloaded flag is mutated after creation.
type Record struct {
	ManifestVersion   int        `json:"manifest_version"`
	SessionID         string     `json:"session_id"`
	CameraID          string     `json:"camera_id"`
	FileName          string     `json:"file_name"`
	StartTimeMaster   time.Time  `json:"start_time_master"`
	StartTimeLocal    time.Time  `json:"start_time_local"`
	OffsetMS          float64    `json:"offset_ms"`
	DurationSeconds   int        `json:"duration"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	Resolution        string     `json:"resolution"`
	FPS               int        `json:"fps"`
	Codec             string     `json:"codec"`
	BitrateMbps       float64    `json:"bitrate_mbps"`
	DroppedFrames     int        `json:"dropped_frames"`
	EncodeErrors      int        `json:"encode_errors"`
	LastPipelineError string     `json:"last_pipeline_error,omitempty"`
	AudioEnabled      bool       `json:"audio_enabled"`
	Checksum          Checksum   `json:"checksum"`
	Offloaded         bool       `json:"offloaded"`
	SoftwareVersion   string     `json:"software_version"`
}

// Encode renders the record as indented JSON.
func (r *Record) Encode() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Decode parses a record strictly: unknown fields are rejected so a
// corrupted or foreign file fails loudly instead of round-tripping
// silently dropped data.
func Decode(raw []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec.ManifestVersion > CurrentVersion {
		return nil, fmt.Errorf("manifest version %d is newer than supported %d", rec.ManifestVersion, CurrentVersion)
	}
	return &rec, nil
}

// FileChecksum computes the sha256 hex digest of a closed output file.
// Returns an empty value when the file does not exist, which happens when a
// pipeline faulted before producing output.
func FileChecksum(path string) (Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checksum{Algo: ChecksumAlgo}, nil
		}
		return Checksum{Algo: ChecksumAlgo}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Checksum{Algo: ChecksumAlgo}, err
	}
	return Checksum{Algo: ChecksumAlgo, Value: hex.EncodeToString(h.Sum(nil))}, nil
}
