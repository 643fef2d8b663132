package build

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestParseRequest(t *testing.T) {
	tests := map[string]struct {
		data    string
		want    Request
		wantErr bool
	}{
		"full payload": {
			data: `{"thirdPartyId":"acme","parserId":"price-alert","id":"5c9f11df-2f21-4448-b365-01a43b7c8e6f"}`,
			want: Request{
				ThirdPartyID: "acme",
				ParserID:     "price-alert",
				ID:           "5c9f11df-2f21-4448-b365-01a43b7c8e6f",
			},
		},
		"extra fields ignored": {
			data: `{"thirdPartyId":"acme","parserId":"price-alert","id":"abc-123","source":"portal"}`,
			want: Request{
				ThirdPartyID: "acme",
				ParserID:     "price-alert",
				ID:           "abc-123",
			},
		},
		"not json": {
			data:    `thirdPartyId=acme`,
			wantErr: true,
		},
		"missing thirdPartyId": {
			data:    `{"parserId":"price-alert"}`,
			wantErr: true,
		},
		"missing parserId": {
			data:    `{"thirdPartyId":"acme"}`,
			wantErr: true,
		},
		"empty object": {
			data:    `{}`,
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRequest([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRequest(%q) succeeded, want error", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest(%q): %v", tt.data, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseRequest(%q) mismatch (-want +got):\n%s", tt.data, diff)
			}
		})
	}
}

func TestParseRequestGeneratesID(t *testing.T) {
	got, err := ParseRequest([]byte(`{"thirdPartyId":"acme","parserId":"price-alert"}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if got.ID == "" {
		t.Fatal("expected a generated id")
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", got.ID, err)
	}

	// Two parses of the same payload must not share an id.
	again, err := ParseRequest([]byte(`{"thirdPartyId":"acme","parserId":"price-alert"}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if again.ID == got.ID {
		t.Error("expected distinct generated ids for distinct parses")
	}
}
