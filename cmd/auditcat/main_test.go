package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/andreyvit/edelta"
	"github.com/andreyvit/edelta/auditlog"
)

type Note struct {
	edelta.EntityBase
	Title string
	Body  string
}

var testSchema = func() *edelta.Schema {
	scm := edelta.NewSchema(edelta.SchemaOptions{})
	edelta.DefineEntity(scm, "Note", func(b *edelta.ClassBuilder[Note]) {
		b.EntityID(1)
		edelta.String(b, "Title", func(v *Note) *string { return &v.Title }, edelta.KeyProp)
		edelta.String(b, "Body", func(v *Note) *string { return &v.Body })
	})
	return scm.MustSeal()
}()

func writeLog(t *testing.T, o auditlog.Options, batches ...[]any) string {
	dir := t.TempDir()
	o.Logger = slog.New(slog.DiscardHandler)
	l := must(auditlog.Open(dir, o))
	defer l.Close()
	for _, objs := range batches {
		_, err := testSchema.Run(edelta.Options{Logger: o.Logger}, l, func(u *edelta.UnitOfWork) error {
			for _, obj := range objs {
				if _, err := u.Register(obj); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("** %v", err)
		}
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestDump(t *testing.T) {
	dir := writeLog(t, auditlog.Options{},
		[]any{&Note{Title: "a", Body: "first"}},
		[]any{&Note{Title: "b"}, &Note{Title: "c"}},
	)

	out, err := run(t, "dump", dir)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	var first entryLine
	ensure(json.Unmarshal([]byte(lines[0]), &first))
	deepEq(t, first.Batch, uint64(1))
	deepEq(t, first.Action, "added")
	deepEq(t, first.ID, edelta.MakeTransientID(1, 1).String())
	deepEq(t, first.Root, first.ID)
	deepEq(t, first.Entity, int32(1))
	deepEq(t, first.Payload, nil)
	if first.Size == 0 {
		t.Errorf("Size = 0")
	}

	var last entryLine
	ensure(json.Unmarshal([]byte(lines[2]), &last))
	deepEq(t, last.Batch, uint64(2))
}

func TestDump_payload(t *testing.T) {
	dir := writeLog(t, auditlog.Options{}, []any{&Note{Title: "a", Body: "first"}})

	out, err := run(t, "dump", "-p", dir)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	var line entryLine
	ensure(json.Unmarshal([]byte(out), &line))
	payload, ok := line.Payload.([]any)
	if !ok || len(payload) != 4 {
		t.Fatalf("payload = %#v", line.Payload)
	}
	deepEq(t, payload[0], any("Note"))
	deepEq(t, payload[2:], []any{"a", "first"})
}

func TestVerify(t *testing.T) {
	dir := writeLog(t, auditlog.Options{},
		[]any{&Note{Title: "a"}},
		[]any{&Note{Title: "b"}, &Note{Title: "c"}},
	)

	out, err := run(t, "verify", dir)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	deepEq(t, out, "1 segments, 2 batches, 3 entries\n")

	ents := must(os.ReadDir(dir))
	fn := filepath.Join(dir, ents[0].Name())
	data := must(os.ReadFile(fn))
	data[len(data)-1] ^= 0x80
	ensure(os.WriteFile(fn, data, 0o644))

	out, err = run(t, "verify", dir)
	if !errors.Is(err, errCorrupted) {
		t.Errorf("verify error = %v, wanted errCorrupted", err)
	}
	if !strings.HasPrefix(out, "1 segments, 1 batches, 1 entries, corrupted: commit checksum mismatch at ") {
		t.Errorf("verify output = %q", out)
	}
}

func TestConfig(t *testing.T) {
	dir := writeLog(t, auditlog.Options{FileName: "notes-*.bin"}, []any{&Note{Title: "a"}})

	out, err := run(t, "verify", dir)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	deepEq(t, out, "0 segments, 0 batches, 0 entries\n")

	cfg := filepath.Join(t.TempDir(), "auditcat.yaml")
	ensure(os.WriteFile(cfg, []byte("file_name: notes-*.bin\npayload: true\n"), 0o644))

	out, err = run(t, "verify", "--config", cfg, dir)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	deepEq(t, out, "1 segments, 1 batches, 1 entries\n")

	out, err = run(t, "dump", "--config", cfg, dir)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	if !strings.Contains(out, `"payload":["Note",`) {
		t.Errorf("dump output = %q, wanted a decoded payload", out)
	}

	// flags beat the config file
	out, err = run(t, "verify", "--config", cfg, "--pattern", "audit-*.log", dir)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	deepEq(t, out, "0 segments, 0 batches, 0 entries\n")

	ensure(os.WriteFile(cfg, []byte("file_name: [oops\n"), 0o644))
	if _, err := run(t, "verify", "--config", cfg, dir); err == nil {
		t.Errorf("malformed config accepted")
	}
}

func TestJSONSafe(t *testing.T) {
	v := jsonSafe([]any{map[any]any{int8(1): 2.5}, float32(1), map[string]any{"x": []any{1.0 / zero}}})
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("** %v", err)
	}
	deepEq(t, string(data), `[{"1":2.5},1,{"x":["+Inf"]}]`)
}

var zero = 0.0

func deepEq[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
