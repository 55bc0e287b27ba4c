package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPermissionConstants(t *testing.T) {
	tests := []struct {
		name     string
		perm     os.FileMode
		expected os.FileMode
	}{
		{"PermLogFile", PermLogFile, 0640},
		{"PermDBFile", PermDBFile, 0640},
		{"PermMarkerFile", PermMarkerFile, 0640},
		{"PermDirectory", PermDirectory, 0750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.perm != tt.expected {
				t.Errorf("%s = %04o, want %04o", tt.name, tt.perm, tt.expected)
			}
		})
	}
}

func TestOpenAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomdeploy.log")

	for _, line := range []string{"first\n", "second\n"} {
		f, err := OpenAppendFile(path, PermLogFile)
		if err != nil {
			t.Fatalf("OpenAppendFile() error = %v", err)
		}
		if _, err := f.WriteString(line); err != nil {
			t.Fatalf("write: %v", err)
		}
		f.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("file content = %q", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != PermLogFile {
		t.Errorf("file mode = %04o, want %04o", info.Mode().Perm(), PermLogFile)
	}
}

func TestIsWorldReadable(t *testing.T) {
	tests := []struct {
		perm os.FileMode
		want bool
	}{
		{0600, false},
		{0640, false},
		{0644, true},
		{0755, true},
	}

	for _, tt := range tests {
		if got := IsWorldReadable(tt.perm); got != tt.want {
			t.Errorf("IsWorldReadable(%04o) = %v, want %v", tt.perm, got, tt.want)
		}
	}
}

func TestIsWorldWritable(t *testing.T) {
	tests := []struct {
		perm os.FileMode
		want bool
	}{
		{0600, false},
		{0644, false},
		{0666, true},
		{0777, true},
	}

	for _, tt := range tests {
		if got := IsWorldWritable(tt.perm); got != tt.want {
			t.Errorf("IsWorldWritable(%04o) = %v, want %v", tt.perm, got, tt.want)
		}
	}
}

func TestValidateSecurePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		perm    os.FileMode
		wantErr bool
	}{
		{"ssh key 0600", 0600, false},
		{"config 0640", 0640, false},
		{"world readable", 0644, true},
		{"world writable", 0602, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.name)
			if err := os.WriteFile(path, []byte("key"), 0600); err != nil {
				t.Fatal(err)
			}
			if err := os.Chmod(path, tt.perm); err != nil {
				t.Fatal(err)
			}

			err := ValidateSecurePermissions(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecurePermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSecurePermissions_NonexistentFile(t *testing.T) {
	if err := ValidateSecurePermissions("/nonexistent/file"); err == nil {
		t.Error("ValidateSecurePermissions() should fail for nonexistent file")
	}
}
