// Package backup encodes the settings record into a self-describing,
// integrity-checked bundle file and validates such files before import.
//
// A bundle is a CBOR envelope (Core Deterministic Encoding) whose payload is
// the zstd-compressed CBOR settings record. The envelope carries a keyed
// BLAKE3 digest of the compressed payload so truncation and tampering are
// caught before anything is decoded.
package backup

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/settings"
)

// FormatVersion is the only envelope version this build reads and writes.
const FormatVersion = 1

// Extension is the file extension of bundle files.
const Extension = ".kspoof"

// maxPayload bounds the decompressed settings record.
const maxPayload = 8 << 20

// digestKey is the BLAKE3 keyed-hash domain for bundle payloads, the ASCII
// name zero-padded to 32 bytes.
var digestKey = [32]byte{
	'k', 's', 'p', 'o', 'o', 'f', '.', 'b', 'a', 'c', 'k', 'u', 'p', '.',
	'p', 'a', 'y', 'l', 'o', 'a', 'd',
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("backup: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("backup: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("backup: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayload))
	if err != nil {
		panic("backup: zstd decoder initialization failed: " + err.Error())
	}
}

// envelope is the on-disk shape.
type envelope struct {
	FormatVersion int    `cbor:"format_version"`
	ID            string `cbor:"id"`
	CreatedAt     int64  `cbor:"created_at"`
	Device        string `cbor:"device"`
	Digest        string `cbor:"digest"`
	Payload       []byte `cbor:"payload"`
}

// Bundle is a validated snapshot of the settings record.
type Bundle struct {
	FormatVersion int
	ID            string
	CreatedAt     time.Time
	Device        string
	Digest        string
	Settings      settings.Settings
}

// Codec builds and reads bundles.
type Codec struct {
	now    func() time.Time
	device func() string
}

// Option configures a [Codec].
type Option func(*Codec)

// WithClock sets the creation-time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithDevice sets the device descriptor source.
func WithDevice(device func() string) Option {
	return func(c *Codec) { c.device = device }
}

// New returns a Codec stamping bundles with the current time and the
// host's device descriptor.
func New(opts ...Option) *Codec {
	c := &Codec{now: time.Now, device: Device}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Filename returns the default bundle file name for t.
func Filename(t time.Time) string {
	return "kspoof-" + t.UTC().Format("20060102-150405") + Extension
}

// Encode snapshots s into bundle bytes.
func (c *Codec) Encode(s settings.Settings) ([]byte, *Bundle, error) {
	s = s.Clone()
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, nil, fault.New(fault.ValidationFailed, "export", err)
	}

	raw, err := encMode.Marshal(s)
	if err != nil {
		return nil, nil, fault.New(fault.IOFailure, "export", err)
	}
	payload := zstdEncoder.EncodeAll(raw, nil)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fault.New(fault.IOFailure, "export", err)
	}
	created := c.now().UTC().Truncate(time.Second)
	env := envelope{
		FormatVersion: FormatVersion,
		ID:            id.String(),
		CreatedAt:     created.Unix(),
		Device:        c.device(),
		Digest:        digest(payload),
		Payload:       payload,
	}
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, nil, fault.New(fault.IOFailure, "export", err)
	}
	return data, &Bundle{
		FormatVersion: env.FormatVersion,
		ID:            env.ID,
		CreatedAt:     created,
		Device:        env.Device,
		Digest:        env.Digest,
		Settings:      s,
	}, nil
}

// Decode validates bundle bytes and returns the snapshot. Every structural
// problem is a ValidationFailed error; nothing is returned partially.
func (c *Codec) Decode(data []byte) (*Bundle, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fault.New(fault.ValidationFailed, "validate", fmt.Errorf("decoding envelope: %w", err))
	}
	if env.FormatVersion != FormatVersion {
		return nil, fault.Newf(fault.ValidationFailed, "validate", "unsupported format version %d", env.FormatVersion)
	}
	switch {
	case env.ID == "":
		return nil, missing("id")
	case env.CreatedAt == 0:
		return nil, missing("created_at")
	case env.Device == "":
		return nil, missing("device")
	case env.Digest == "":
		return nil, missing("digest")
	case len(env.Payload) == 0:
		return nil, missing("payload")
	}
	if _, err := uuid.Parse(env.ID); err != nil {
		return nil, fault.New(fault.ValidationFailed, "validate", fmt.Errorf("bundle id: %w", err))
	}
	if digest(env.Payload) != env.Digest {
		return nil, fault.Newf(fault.ValidationFailed, "validate", "payload digest mismatch")
	}

	raw, err := zstdDecoder.DecodeAll(env.Payload, nil)
	if err != nil {
		return nil, fault.New(fault.ValidationFailed, "validate", fmt.Errorf("decompressing payload: %w", err))
	}
	var s settings.Settings
	if err := decMode.Unmarshal(raw, &s); err != nil {
		return nil, fault.New(fault.ValidationFailed, "validate", fmt.Errorf("decoding settings: %w", err))
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, fault.New(fault.ValidationFailed, "validate", err)
	}

	return &Bundle{
		FormatVersion: env.FormatVersion,
		ID:            env.ID,
		CreatedAt:     time.Unix(env.CreatedAt, 0).UTC(),
		Device:        env.Device,
		Digest:        env.Digest,
		Settings:      s,
	}, nil
}

// Export writes a bundle of s to path, replacing any existing file.
func (c *Codec) Export(path string, s settings.Settings) (*Bundle, error) {
	data, b, err := c.Encode(s)
	if err != nil {
		return nil, err
	}
	if err := writeFile(path, data); err != nil {
		return nil, fault.New(fault.IOFailure, "export", err)
	}
	return b, nil
}

// Validate reads and validates the bundle at path.
func (c *Codec) Validate(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.New(fault.IOFailure, "validate", err)
	}
	return c.Decode(data)
}

func digest(payload []byte) string {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("backup: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func missing(field string) error {
	return fault.Newf(fault.ValidationFailed, "validate", "missing field %s", field)
}

// writeFile replaces path atomically through a sibling temp file.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
