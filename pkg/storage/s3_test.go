package storage

import "testing"

var (
	jpegData = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	pngData  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	gifData  = []byte("GIF89a\x01\x00\x01\x00")
	webpData = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
	pdfData  = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj")
	exeData  = []byte("MZ\x90\x00\x03\x00\x00\x00")
)

func TestDetectSlipType(t *testing.T) {
	tests := []struct {
		name                  string
		contentType, filename string
		data                  []byte
		want                  string
		ok                    bool
	}{
		{"jpeg", "image/jpeg", "slip.jpg", jpegData, "image/jpeg", true},
		{"png with params", "image/png; charset=binary", "", pngData, "image/png", true},
		{"no declared type", "", "SLIP.JPEG", jpegData, "image/jpeg", true},
		{"octet stream webp", "application/octet-stream", "slip.webp", webpData, "image/webp", true},
		{"gif", "image/gif", "slip.gif", gifData, "image/gif", true},
		{"bytes decide over extension", "image/jpeg", "slip.jpg", pngData, "image/png", true},
		{"pdf bytes named jpg", "image/jpeg", "slip.jpg", pdfData, "", false},
		{"pdf declared with jpg name", "application/pdf", "slip.jpg", jpegData, "", false},
		{"exe claiming png", "image/png", "x.exe", pngData, "", false},
		{"exe bytes", "image/png", "slip.png", exeData, "", false},
		{"video", "video/mp4", "slip.mp4", jpegData, "", false},
		{"empty", "image/jpeg", "slip.jpg", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectSlipType(tt.contentType, tt.filename, tt.data)
			if ok != tt.ok || got != tt.want {
				t.Errorf("DetectSlipType = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSlipKey(t *testing.T) {
	if got := SlipKey("u1", "p1", "IMG_01.PNG"); got != "slips/u1/p1.png" {
		t.Errorf("SlipKey = %q", got)
	}
	if got := SlipKey("u1", "p1", "../../etc"); got != "slips/u1/p1.jpg" {
		t.Errorf("SlipKey = %q", got)
	}
}
