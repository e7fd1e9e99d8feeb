// Package cloud implements the eWeLink cloud API: the REST client used
// for login, device listing and state calls, and the WebSocket client
// that receives pushed device updates and carries low latency writes.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                         cloud                                │
//	│                                                              │
//	│  ┌──────────────────────┐      ┌──────────────────────────┐  │
//	│  │  Client (REST)       │      │  WSClient                │  │
//	│  │                      │      │                          │  │
//	│  │ • signed login       │◄─────│ • session (token, key)   │  │
//	│  │ • region redirect    │      │ • dispatch → wss dial    │  │
//	│  │ • token refresh      │      │ • userOnline handshake   │  │
//	│  │ • family / things    │      │ • heartbeat pings        │  │
//	│  │ • thing status       │      │ • sequence → reply map   │  │
//	│  └──────────┬───────────┘      └────────────┬─────────────┘  │
//	└─────────────│───────────────────────────────│────────────────┘
//	              ▼                               ▼
//	   https://<region>-apia.coolkit.cc   wss://<domain>:<port>/api/ws
//
// # Errors
//
// A failed call returns *APICallError when the failure is in transport,
// or when the cloud answered with a code listed as a transport code in
// Options.TransportErrorCodes. Any other non-zero cloud code returns
// *APIError. Callers treat the first as "device unreachable" and the
// second as "device misbehaving".
//
// # Usage
//
//	api := cloud.New(cloud.Options{
//	    Username:  cfg.Cloud.Username,
//	    Password:  cfg.Cloud.Password,
//	    AppID:     cfg.Cloud.AppID,
//	    AppSecret: cfg.Cloud.AppSecret,
//	    Region:    sonoff.RegionEurope,
//	})
//	if err := api.Connect(ctx); err != nil {
//	    return err
//	}
//
//	ws := cloud.NewWSClient(api, cloud.WSOptions{AppID: cfg.Cloud.AppID})
//	ws.SetOnMessage(func(ev cloud.Event) { ... })
//	if err := ws.Connect(ctx); err != nil {
//	    return err
//	}
package cloud
