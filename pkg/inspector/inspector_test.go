package inspector

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cavaliergopher/rpm"

	"github.com/yumsync/yumsync/pkg/metadata"
)

func TestDepFlagsToString(t *testing.T) {
	tests := []struct {
		flags   int
		want    string
		wantPre bool
	}{
		{0, "", false},
		{rpm.DepFlagEqual, "EQ", false},
		{rpm.DepFlagLesser, "LT", false},
		{rpm.DepFlagGreater, "GT", false},
		{rpm.DepFlagLesserOrEqual, "LE", false},
		{rpm.DepFlagGreaterOrEqual, "GE", false},
		{rpm.DepFlagPrereq, "", true},
		{rpm.DepFlagEqual | rpm.DepFlagPrereq, "EQ", true},
	}

	for _, tt := range tests {
		got, pre := depFlagsToString(tt.flags)
		if got != tt.want {
			t.Errorf("depFlagsToString(%d) = %q, want %q", tt.flags, got, tt.want)
		}
		if pre != tt.wantPre {
			t.Errorf("depFlagsToString(%d) pre = %v, want %v", tt.flags, pre, tt.wantPre)
		}
	}
}

func TestInspectRPMInvalidData(t *testing.T) {
	invalidData := []byte("not a valid RPM file")
	mockInfo := mockFileInfo{size: int64(len(invalidData))}

	_, err := InspectRPM("test.rpm", invalidData, mockInfo, "sha256", "test.rpm")
	if err == nil {
		t.Error("InspectRPM should return error for invalid RPM data")
	}

	if _, err := InspectRPM("test.rpm", nil, mockFileInfo{}, "sha256", "test.rpm"); err == nil {
		t.Error("InspectRPM should return error for empty data")
	}
}

func TestDetectTarget(t *testing.T) {
	tests := []struct {
		name    string
		pkg     metadata.Package
		want    Target
		wantErr bool
	}{
		{
			name: "el9 x86_64",
			pkg:  metadata.Package{Name: "alpha", Arch: "x86_64", Release: "1.el9"},
			want: Target{Dist: "el9", Arch: "x86_64"},
		},
		{
			name: "el8 noarch",
			pkg:  metadata.Package{Name: "beta", Arch: "noarch", Release: "12.el8_9.2"},
			want: Target{Dist: "el8", Arch: "noarch"},
		},
		{
			name:    "no dist tag",
			pkg:     metadata.Package{Name: "gamma", Arch: "x86_64", Release: "1"},
			wantErr: true,
		},
		{
			name:    "no arch",
			pkg:     metadata.Package{Name: "delta", Release: "1.el9"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectTarget(tt.pkg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateBatch(t *testing.T) {
	same := []metadata.Package{
		{Name: "alpha", Arch: "x86_64", Release: "1.el9"},
		{Name: "beta", Arch: "x86_64", Release: "3.el9"},
	}
	target, err := ValidateBatch(same)
	if err != nil {
		t.Fatalf("uniform batch: %v", err)
	}
	if target.RepoPath() != "el9/x86_64" {
		t.Errorf("repo path = %q", target.RepoPath())
	}

	mixed := []metadata.Package{
		{Name: "alpha", Arch: "x86_64", Release: "1.el9"},
		{Name: "beta", Arch: "aarch64", Release: "1.el9"},
	}
	if _, err := ValidateBatch(mixed); !errors.Is(err, ErrMismatch) {
		t.Errorf("mixed arch: want ErrMismatch, got %v", err)
	}

	mixedDist := []metadata.Package{
		{Name: "alpha", Arch: "x86_64", Release: "1.el9"},
		{Name: "beta", Arch: "x86_64", Release: "1.el8"},
	}
	if _, err := ValidateBatch(mixedDist); !errors.Is(err, ErrMismatch) {
		t.Errorf("mixed dist: want ErrMismatch, got %v", err)
	}

	if _, err := ValidateBatch(nil); err == nil {
		t.Error("empty batch should fail")
	}
}

type mockFileInfo struct {
	size int64
}

func (m mockFileInfo) Name() string       { return "test.rpm" }
func (m mockFileInfo) Size() int64        { return m.size }
func (m mockFileInfo) Mode() os.FileMode  { return 0o644 }
func (m mockFileInfo) ModTime() time.Time { return time.Now() }
func (m mockFileInfo) IsDir() bool        { return false }
func (m mockFileInfo) Sys() interface{}   { return nil }
