// Package fcm registers the running process as an Android FCM device and
// receives the pushes addressed to it.
//
// Registration is a GCM checkin followed by a c2dm/register3 call scoped to
// an AppIdentity (package name, sender ID, signing certificate). Pushes
// arrive over Google's MCS (Mobile Connection Server) socket as plaintext
// app data and are parsed into Message values.
//
// Usage:
//
//	client := fcm.NewClient(sessionDir, fcm.WithApp(app))
//	client.OnMessage(func(msg fcm.Message) { ... })
//	token, err := client.Register(ctx)
//	err = client.Listen(ctx)
package fcm
