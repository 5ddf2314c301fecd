package ipctest

import (
	"testing"

	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/ipc"
)

func TestErrorResponseCode(t *testing.T) {
	resp := errorResponse(gateway.ErrNotFound)
	if resp.Success || resp.Code != ipc.CodeNotFound {
		t.Errorf("Expected not_found error response, got %+v", resp)
	}

	resp = ipc.NewErrorResponse("boom")
	if resp.Type != ipc.MsgError || resp.Code != "" || resp.Error != "boom" {
		t.Errorf("Unexpected error response: %+v", resp)
	}
}
