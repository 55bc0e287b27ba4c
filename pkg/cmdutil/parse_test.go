package cmdutil

import (
	"testing"
)

func TestParseCommandString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			"simple command",
			"git status",
			[]string{"git", "status"},
			false,
		},
		{
			"django migrate",
			"python manage.py migrate --noinput",
			[]string{"python", "manage.py", "migrate", "--noinput"},
			false,
		},
		{
			"command with quoted argument",
			"git commit -m \"my message\"",
			[]string{"git", "commit", "-m", "my message"},
			false,
		},
		{
			"command with single quotes",
			"echo 'hello world'",
			[]string{"echo", "hello world"},
			false,
		},
		{
			"empty string",
			"",
			nil,
			true,
		},
		{
			"whitespace only",
			"   ",
			nil,
			true,
		},
		{
			"unterminated quote",
			"echo \"oops",
			nil,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommandString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommandString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !equalStringSlices(got, tt.want) {
				t.Errorf("ParseCommandString() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseCommandList(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    []string
		wantErr bool
	}{
		{
			"string format",
			"docker compose",
			[]string{"docker", "compose"},
			false,
		},
		{
			"list format ([]interface{})",
			[]interface{}{"docker", "compose"},
			[]string{"docker", "compose"},
			false,
		},
		{
			"list format ([]string)",
			[]string{"docker-compose"},
			[]string{"docker-compose"},
			false,
		},
		{
			"empty list",
			[]string{},
			nil,
			true,
		},
		{
			"invalid type",
			123,
			nil,
			true,
		},
		{
			"list with non-string element",
			[]interface{}{"docker", 123},
			nil,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommandList(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommandList() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !equalStringSlices(got, tt.want) {
				t.Errorf("ParseCommandList() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatCommand(t *testing.T) {
	if got := FormatCommand([]string{"git", "status"}); got != "git status" {
		t.Errorf("FormatCommand() = %q, want %q", got, "git status")
	}
	if got := FormatCommand(nil); got != "<empty command>" {
		t.Errorf("FormatCommand() = %q, want %q", got, "<empty command>")
	}

	// Quoted arguments must still split back into the original parts
	parts := []string{"git", "commit", "-m", "my message"}
	back, err := ParseCommandString(FormatCommand(parts))
	if err != nil {
		t.Fatalf("ParseCommandString error: %v", err)
	}
	if !equalStringSlices(back, parts) {
		t.Errorf("FormatCommand() did not quote arguments: %v", back)
	}
}

func TestJoinCommand_RoundTrip(t *testing.T) {
	parts := []string{"cat", "/srv/atom/.previous version", "it's"}

	joined := JoinCommand(parts)
	back, err := ParseCommandString(joined)
	if err != nil {
		t.Fatalf("ParseCommandString(%q) error: %v", joined, err)
	}
	if !equalStringSlices(back, parts) {
		t.Errorf("round trip = %v, want %v", back, parts)
	}
}

func TestTailOutput(t *testing.T) {
	out := []byte("one\ntwo\nthree\nfour\n")

	if got := TailOutput(out, 2); got != "three\nfour" {
		t.Errorf("TailOutput() = %q", got)
	}
	if got := TailOutput(out, 10); got != "one\ntwo\nthree\nfour" {
		t.Errorf("TailOutput() = %q", got)
	}
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func BenchmarkParseCommandString(b *testing.B) {
	cmd := "python manage.py collectstatic --noinput"

	for i := 0; i < b.N; i++ {
		_, _ = ParseCommandString(cmd)
	}
}
