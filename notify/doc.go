// Package notify is the app-facing push API: it asks for notification
// permission, hands out the registration token and delivers pushes on three
// mutually exclusive channels depending on the app state when they arrive.
//
//   - foreground: the app is active (SubscribeForeground);
//   - opened: the push was displayed in the tray and the user tapped it
//     while the app was in the background (SubscribeOpened);
//   - initial: the tap cold-started the app (InitialNotification).
//
// The push SDK, the permission dialog and the tray are injected.
package notify
