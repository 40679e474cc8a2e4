package relay

import (
	"encoding/json"
	"testing"
)

// Round-trip: every MessageToRelay variant survives JSON decode with exactly
// the variant that was encoded on the other side.
func TestMessageToRelayRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want MessageToRelay
	}{
		{
			name: "hello",
			wire: `{"hello":{"authentication":{"salt":"abc","challenge":"def"}}}`,
			want: MessageToRelay{Hello: &Hello{Authentication: HelloAuthentication{Salt: "abc", Challenge: "def"}}},
		},
		{
			name: "identified ok",
			wire: `{"identified":{"result":"Ok"}}`,
			want: MessageToRelay{Identified: &Identified{Result: IdentifiedOk}},
		},
		{
			name: "identified wrong password",
			wire: `{"identified":{"result":"WrongPassword"}}`,
			want: MessageToRelay{Identified: &Identified{Result: IdentifiedWrongPassword}},
		},
		{
			name: "request start tunnel",
			wire: `{"request":{"id":"r1","data":{"startTunnel":{"address":"10.0.0.5","port":9000}}}}`,
			want: MessageToRelay{Request: &Request{ID: "r1", Data: RequestData{StartTunnel: &StartTunnelRequest{Address: "10.0.0.5", Port: 9000}}}},
		},
		{
			name: "request status",
			wire: `{"request":{"id":"r2","data":{"status":{}}}}`,
			want: MessageToRelay{Request: &Request{ID: "r2", Data: RequestData{Status: &StatusRequest{}}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got MessageToRelay
			if err := json.Unmarshal([]byte(tc.wire), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			switch {
			case tc.want.Hello != nil:
				if got.Hello == nil || *got.Hello != *tc.want.Hello {
					t.Errorf("got %+v, want %+v", got, tc.want)
				}
			case tc.want.Identified != nil:
				if got.Identified == nil || *got.Identified != *tc.want.Identified {
					t.Errorf("got %+v, want %+v", got, tc.want)
				}
			case tc.want.Request != nil:
				if got.Request == nil || got.Request.ID != tc.want.Request.ID {
					t.Fatalf("got %+v, want %+v", got, tc.want)
				}
				wantData, gotData := tc.want.Request.Data, got.Request.Data
				if (wantData.StartTunnel == nil) != (gotData.StartTunnel == nil) {
					t.Errorf("StartTunnel presence mismatch: got %+v, want %+v", gotData, wantData)
				}
				if wantData.StartTunnel != nil && *gotData.StartTunnel != *wantData.StartTunnel {
					t.Errorf("StartTunnel = %+v, want %+v", *gotData.StartTunnel, *wantData.StartTunnel)
				}
				if (wantData.Status == nil) != (gotData.Status == nil) {
					t.Errorf("Status presence mismatch: got %+v, want %+v", gotData, wantData)
				}
			}
		})
	}
}

// MessageToStreamer.Marshal round-trips through the streamer-side decoder
// (plain json.Unmarshal, as a real streamer would use).
func TestMessageToStreamerMarshalRoundTrip(t *testing.T) {
	battery := int32(42)
	cases := []MessageToStreamer{
		{Identify: &Identify{ID: "relay-1", Name: "garage", Authentication: "deadbeef"}},
		{Response: &Response{ID: "r1", Result: ResponseResult{Ok: &ResponseData{StartTunnel: &StartTunnelResponse{Port: 51820}}}}},
		{Response: &Response{ID: "r2", Result: ResponseResult{Ok: &ResponseData{Status: &StatusResponse{BatteryPercentage: &battery}}}}},
		{Response: &Response{ID: "r3", Result: ResponseResult{Ok: &ResponseData{Status: &StatusResponse{BatteryPercentage: nil}}}}},
		{Response: &Response{ID: "r4", Result: ResponseResult{Error: &ResponseError{Message: "boom"}}}},
	}

	for i, msg := range cases {
		data, err := msg.Marshal()
		if err != nil {
			t.Fatalf("case %d: marshal: %v", i, err)
		}
		var decoded MessageToStreamer
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("case %d: unmarshal %s: %v", i, data, err)
		}

		switch {
		case msg.Identify != nil:
			if decoded.Identify == nil || *decoded.Identify != *msg.Identify {
				t.Errorf("case %d: got %+v, want %+v", i, decoded, msg)
			}
		case msg.Response != nil:
			if decoded.Response == nil || decoded.Response.ID != msg.Response.ID {
				t.Fatalf("case %d: got %+v, want %+v", i, decoded, msg)
			}
			wantErr, gotErr := msg.Response.Result.Error, decoded.Response.Result.Error
			if (wantErr == nil) != (gotErr == nil) {
				t.Errorf("case %d: error presence mismatch: got %+v, want %+v", i, decoded.Response.Result, msg.Response.Result)
			}
			if wantErr != nil && *gotErr != *wantErr {
				t.Errorf("case %d: error = %+v, want %+v", i, *gotErr, *wantErr)
			}

			wantOk, gotOk := msg.Response.Result.Ok, decoded.Response.Result.Ok
			if (wantOk == nil) != (gotOk == nil) {
				t.Fatalf("case %d: ok presence mismatch: got %+v, want %+v", i, decoded.Response.Result, msg.Response.Result)
			}
			if wantOk != nil {
				if (wantOk.StartTunnel == nil) != (gotOk.StartTunnel == nil) {
					t.Errorf("case %d: StartTunnel presence mismatch", i)
				}
				if wantOk.StartTunnel != nil && *gotOk.StartTunnel != *wantOk.StartTunnel {
					t.Errorf("case %d: StartTunnel = %+v, want %+v", i, *gotOk.StartTunnel, *wantOk.StartTunnel)
				}
				if (wantOk.Status == nil) != (gotOk.Status == nil) {
					t.Errorf("case %d: Status presence mismatch", i)
				}
				if wantOk.Status != nil {
					wantBattery, gotBattery := wantOk.Status.BatteryPercentage, gotOk.Status.BatteryPercentage
					if (wantBattery == nil) != (gotBattery == nil) {
						t.Errorf("case %d: battery presence mismatch", i)
					}
					if wantBattery != nil && *gotBattery != *wantBattery {
						t.Errorf("case %d: battery = %v, want %v", i, *gotBattery, *wantBattery)
					}
				}
			}
		}
	}
}
