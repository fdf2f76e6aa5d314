package esp_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/esplink/esp"
)

// MockSequenceBuilder records the transport calls of a scripted
// conversation: every command is one Write followed by one Read returning
// the module's complete answer.
type MockSequenceBuilder struct {
	transport *esp.MockTransport
	calls     []any
}

func NewMockSequence(transport *esp.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

func (b *MockSequenceBuilder) exchange(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd)).Return(len(cmd), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.exchange("AT\r\n", "AT\r\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) StationMode() *MockSequenceBuilder {
	return b.exchange("AT+CWMODE=1\r\n", "AT+CWMODE=1\r\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Join(ssid, password string) *MockSequenceBuilder {
	cmd := `AT+CWJAP="` + ssid + `","` + password + `"`
	return b.exchange(cmd+"\r\n", cmd+"\r\r\nWIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Status(code string) *MockSequenceBuilder {
	return b.exchange("AT+CIPSTATUS\r\n", "AT+CIPSTATUS\r\r\nSTATUS:"+code+"\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
