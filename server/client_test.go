package server

import "testing"

func TestCheckClientID(t *testing.T) {
	srv := newTestServer(t, nil)

	if !srv.CheckClientID("test-client") {
		t.Error("CheckClientID(test-client) = false, want true")
	}
	if srv.CheckClientID("other-client") {
		t.Error("CheckClientID(other-client) = true, want false")
	}
	if srv.CheckClientID("") {
		t.Error("CheckClientID(\"\") = true, want false")
	}
}

func TestAuthenticateClient(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name         string
		clientID     string
		clientSecret string
		wantCode     string
	}{
		{
			name:         "valid credentials",
			clientID:     "test-client",
			clientSecret: "test-secret",
		},
		{
			name:         "unknown client",
			clientID:     "other-client",
			clientSecret: "test-secret",
			wantCode:     ErrorCodeInvalidClient,
		},
		{
			name:         "missing secret",
			clientID:     "test-client",
			clientSecret: "",
			wantCode:     ErrorCodeInvalidClient,
		},
		{
			name:         "wrong secret",
			clientID:     "test-client",
			clientSecret: "wrong-secret",
			wantCode:     ErrorCodeInvalidClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := srv.AuthenticateClient(tt.clientID, tt.clientSecret)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("AuthenticateClient() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("AuthenticateClient() = nil, want error")
			}
			if err.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", err.Code, tt.wantCode)
			}
		})
	}
}

func TestPlaintextSecretDropped(t *testing.T) {
	srv := newTestServer(t, nil)

	if srv.Config().ClientSecret != "" {
		t.Error("plaintext client secret retained after construction")
	}
}
