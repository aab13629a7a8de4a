package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/roach88/escrow/internal/pubkey"
)

// MaxMetadataLen bounds Job.Metadata in bytes.
const MaxMetadataLen = 256

// RecordSize is the encoded size of a Job:
// job_id + length-prefixed metadata + owner + worker + amount + status.
const RecordSize = 8 + 4 + MaxMetadataLen + pubkey.Size + pubkey.Size + 8 + 1

// DiscriminatorSize is the length of the type tag preceding the record.
const DiscriminatorSize = 8

// AccountSpace is the storage allocated for every job, independent of the
// actual metadata length.
const AccountSpace = DiscriminatorSize + RecordSize

// Status is the lifecycle state of a job. Values are the on-ledger
// discriminants.
type Status uint8

const (
	StatusPending Status = iota
	StatusStarted
	StatusProcessing
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusStarted:
		return "Started"
	case StatusProcessing:
		return "Processing"
	case StatusDone:
		return "Done"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the four defined states.
func (s Status) Valid() bool {
	return s <= StatusDone
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name as produced by String.
func ParseStatus(name string) (Status, error) {
	for s := StatusPending; s <= StatusDone; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Job is one escrow record.
type Job struct {
	JobID    uint64     `json:"job_id"`
	Metadata []byte     `json:"metadata"`
	Owner    pubkey.Key `json:"owner"`
	Worker   pubkey.Key `json:"worker"`
	Amount   uint64     `json:"amount"`
	Status   Status     `json:"status"`
}

// HasWorker reports whether a worker has accepted the job.
func (j Job) HasWorker() bool {
	return !j.Worker.IsZero()
}

var discriminator = func() [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:Job"))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}()

// MarshalBinary encodes the job into exactly AccountSpace bytes:
// discriminator, then little-endian fields with metadata zero-padded to
// MaxMetadataLen.
func (j Job) MarshalBinary() ([]byte, error) {
	if len(j.Metadata) > MaxMetadataLen {
		return nil, ErrMetadataTooLong
	}
	if !j.Status.Valid() {
		return nil, fmt.Errorf("encode job %d: invalid status %d", j.JobID, uint8(j.Status))
	}

	buf := make([]byte, 0, AccountSpace)
	buf = append(buf, discriminator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, j.JobID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(j.Metadata)))
	buf = append(buf, j.Metadata...)
	buf = append(buf, make([]byte, MaxMetadataLen-len(j.Metadata))...)
	buf = append(buf, j.Owner[:]...)
	buf = append(buf, j.Worker[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, j.Amount)
	buf = append(buf, byte(j.Status))
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
// Trailing bytes beyond AccountSpace are ignored.
func (j *Job) UnmarshalBinary(data []byte) error {
	if len(data) < AccountSpace {
		return corrupt("record is %d bytes, want %d", len(data), AccountSpace)
	}
	if [DiscriminatorSize]byte(data[:DiscriminatorSize]) != discriminator {
		return corrupt("wrong account discriminator")
	}

	r := data[DiscriminatorSize:]
	jobID := binary.LittleEndian.Uint64(r[0:8])
	metaLen := binary.LittleEndian.Uint32(r[8:12])
	if metaLen > MaxMetadataLen {
		return corrupt("metadata length %d exceeds %d", metaLen, MaxMetadataLen)
	}

	off := 12
	metadata := append([]byte{}, r[off:off+int(metaLen)]...)
	off += MaxMetadataLen

	owner, _ := pubkey.FromBytes(r[off : off+pubkey.Size])
	off += pubkey.Size
	worker, _ := pubkey.FromBytes(r[off : off+pubkey.Size])
	off += pubkey.Size

	amount := binary.LittleEndian.Uint64(r[off : off+8])
	off += 8

	status := Status(r[off])
	if !status.Valid() {
		return corrupt("status discriminant %d", r[off])
	}

	*j = Job{
		JobID:    jobID,
		Metadata: metadata,
		Owner:    owner,
		Worker:   worker,
		Amount:   amount,
		Status:   status,
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return &Error{Code: CodeCorruptRecord, Detail: fmt.Sprintf(format, args...)}
}

// JobAddress derives the record address of a job id from the seeds
// "job" and the id as 8 little-endian bytes.
func JobAddress(jobID uint64) pubkey.Key {
	return pubkey.Derive([]byte("job"), binary.LittleEndian.AppendUint64(nil, jobID))
}
