// Package dbtext implements the flat text table format used by kerntune
// performance databases.
//
// A database file holds one record per line:
//
//	<fingerprint-key>=<solver>:<config>[;<solver>:<config>...]
//
// The fingerprint key is the canonical string form of a problem, the value
// maps solver identifiers to their serialized performance configs.
package dbtext

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var (
	ErrNoSeparator  = errors.New("dbtext: line has no key separator")
	ErrEmptyKey     = errors.New("dbtext: empty record key")
	ErrBadValuePair = errors.New("dbtext: malformed solver:config pair")
)

// Record is the decoded value side of one database line: solver id to
// serialized performance config.
type Record map[string]string

// ParseLine decodes a single database line into its key and record.
func ParseLine(line string) (string, Record, error) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", nil, ErrNoSeparator
	}
	key := strings.TrimSpace(line[:eq])
	if key == "" {
		return "", nil, ErrEmptyKey
	}

	rec := make(Record)
	value := strings.TrimSpace(line[eq+1:])
	if value == "" {
		return key, rec, nil
	}
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		colon := strings.IndexByte(pair, ':')
		if colon <= 0 || colon == len(pair)-1 {
			return "", nil, fmt.Errorf("%w: %q", ErrBadValuePair, pair)
		}
		rec[pair[:colon]] = pair[colon+1:]
	}
	return key, rec, nil
}

// FormatRecord encodes a record as the value side of a database line.
// Solver ids are emitted in sorted order so output is deterministic.
func FormatRecord(rec Record) string {
	ids := make([]string, 0, len(rec))
	for id := range rec {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(id)
		sb.WriteByte(':')
		sb.WriteString(rec[id])
	}
	return sb.String()
}

// FormatLine encodes one full database line, without trailing newline.
func FormatLine(key string, rec Record) string {
	return key + "=" + FormatRecord(rec)
}

// Scan reads a database table line by line, calling emit for every
// well-formed record. Malformed lines are reported through onSkip (line
// number is 1-based) and do not abort the scan; blank lines and lines
// starting with '#' are ignored silently.
func Scan(r io.Reader, emit func(key string, rec Record), onSkip func(lineNo int, line string, err error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, rec, err := ParseLine(line)
		if err != nil {
			if onSkip != nil {
				onSkip(lineNo, line, err)
			}
			continue
		}
		emit(key, rec)
	}
	return sc.Err()
}

// Write emits a full table to w, one line per key, keys in sorted order.
func Write(w io.Writer, table map[string]Record) error {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		if _, err := bw.WriteString(FormatLine(k, table[k])); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
