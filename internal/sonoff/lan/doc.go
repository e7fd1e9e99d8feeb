// Package lan talks to Sonoff devices on the local network.
//
// Devices running the eWeLink LAN protocol announce themselves over mDNS
// as "_ewelink._tcp" services. Every announcement carries the device id,
// a sequence number and up to four TXT chunks holding the JSON state of
// the device, AES encrypted when the device has a device key.
//
// Direct calls go to the /zeroconf HTTP endpoints of the device:
//
//	POST http://<ip>:<port>/zeroconf/info      read device information
//	POST http://<ip>:<port>/zeroconf/<param>   write one parameter or group
//
// Device error codes 400, 401, 404 and 422 mean the device will never
// accept calls from this session; IsIgnorable reports them so that
// callers can stop polling such a device.
//
// # Usage
//
//	c := lan.New(lan.Options{Logger: log})
//	c.SetOnMessage(func(ev lan.Event) { ... })
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	defer c.Disconnect()
//
//	info, err := c.GetDeviceInfo(ctx, "1000abcdef", "192.168.1.20", 8081)
package lan
