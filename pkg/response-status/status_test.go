package responsestatus

import "testing"

func TestCode(t *testing.T) {
	response := "HTTP/1.1 404 Not Found\r\nServer: Test\r\n\r\nThis is the body"
	code, err := Code([]byte(response))
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if code != 404 {
		t.Fatalf("Code: %d", code)
	}
}

func TestCodeWithoutHeaderTerminator(t *testing.T) {
	if _, err := Code([]byte("garbage")); err == nil {
		t.Fatal("Expected error")
	}
}
