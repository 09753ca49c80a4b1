package eventlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// journal is the crash-safe buffer persistence layer that precedes a
// columnar batch flush (spec.md §4.2: "A WAL precedes the columnar
// batch"). Framing follows the teacher's internal/store WAL format: a
// JSONL body followed by a 32-byte footer carrying the body length and
// its CRC32C checksum, each duplicated in inverted form so a torn write
// is detectable without a separate sync barrier. [Writer] rewrites the
// journal on every append and empties it after each flush; nothing in this
// module calls decode, so a journal left behind by a crash is not replayed
// on open.
type journal struct {
	magic string
}

const (
	journalMagic      = "PQDBWAL1"
	journalFooterSize = 32
)

var journalCRC32C = crc32.MakeTable(crc32.Castagnoli)

// ErrJournalCorrupt reports a committed journal with a mismatched checksum.
var ErrJournalCorrupt = errors.New("eventlog: journal corrupt")

// ErrJournalReplay reports journal validation or replay failures.
var ErrJournalReplay = errors.New("eventlog: journal replay")

func newJournal() *journal { return &journal{magic: journalMagic} }

// encode renders events as a committed journal: JSONL body + footer.
func (j *journal) encode(events []Event) ([]byte, error) {
	var body bytes.Buffer

	enc := json.NewEncoder(&body)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("eventlog: encode journal event: %w", err)
		}
	}

	bodyBytes := body.Bytes()
	crc := crc32.Checksum(bodyBytes, journalCRC32C)

	footer := make([]byte, journalFooterSize)
	copy(footer[:8], j.magic)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(bodyBytes)))
	binary.LittleEndian.PutUint64(footer[16:24], ^uint64(len(bodyBytes)))
	binary.LittleEndian.PutUint32(footer[24:28], crc)
	binary.LittleEndian.PutUint32(footer[28:32], ^crc)

	out := make([]byte, 0, len(bodyBytes)+journalFooterSize)
	out = append(out, bodyBytes...)
	out = append(out, footer...)

	return out, nil
}

// journalState describes what was found when inspecting a journal's bytes.
type journalState uint8

const (
	journalEmpty journalState = iota
	journalUncommitted
	journalCommitted
)

// decode inspects raw journal bytes (as previously produced by encode) and
// returns the validated events for a committed journal, or an empty/
// uncommitted classification for anything else. A committed journal whose
// checksum does not match its body is reported as [ErrJournalCorrupt].
func (j *journal) decode(data []byte) (journalState, []Event, error) {
	size := int64(len(data))
	if size == 0 {
		return journalEmpty, nil, nil
	}

	if size < journalFooterSize {
		return journalUncommitted, nil, nil
	}

	footer := data[size-journalFooterSize:]

	if string(footer[:8]) != j.magic {
		return journalUncommitted, nil, nil
	}

	bodyLen := binary.LittleEndian.Uint64(footer[8:16])
	bodyLenInv := binary.LittleEndian.Uint64(footer[16:24])

	if ^bodyLen != bodyLenInv {
		return journalUncommitted, nil, nil
	}

	crc := binary.LittleEndian.Uint32(footer[24:28])
	crcInv := binary.LittleEndian.Uint32(footer[28:32])

	if ^crc != crcInv {
		return journalUncommitted, nil, nil
	}

	if bodyLen > math.MaxInt64 || int64(bodyLen) > size-journalFooterSize {
		return journalUncommitted, nil, nil
	}

	body := data[:bodyLen]

	checksum := crc32.Checksum(body, journalCRC32C)
	if checksum != crc {
		return journalCommitted, nil, fmt.Errorf("checksum mismatch (expected %08x got %08x): %w", crc, checksum, ErrJournalCorrupt)
	}

	events, err := decodeJournalBody(body)
	if err != nil {
		return journalCommitted, nil, err
	}

	return journalCommitted, events, nil
}

func decodeJournalBody(body []byte) ([]Event, error) {
	reader := bufio.NewReader(bytes.NewReader(body))

	var events []Event

	for {
		line, readErr := reader.ReadBytes('\n')

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var e Event
			if err := json.Unmarshal(trimmed, &e); err != nil {
				return nil, fmt.Errorf("%w: parse journal line: %w", ErrJournalReplay, err)
			}

			events = append(events, e)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return nil, fmt.Errorf("%w: read journal line: %w", ErrJournalReplay, readErr)
		}
	}

	return events, nil
}
