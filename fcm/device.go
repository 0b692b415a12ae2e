package fcm

import "fmt"

// AppIdentity identifies the Android app whose pushes this device receives.
// It must match the Firebase project the sender uses, otherwise c2dm
// registration is rejected or the token never receives messages.
type AppIdentity struct {
	// Package is the Android application ID, e.g. "com.mobileapp".
	Package string `yaml:"app_package"`

	// SenderID is the Firebase project number.
	SenderID string `yaml:"sender_id"`

	// CertSHA1 is the hex SHA1 of the APK signing certificate.
	CertSHA1 string `yaml:"app_cert"`

	// Version is the app version code sent as app_ver.
	Version string `yaml:"app_version"`
}

// DefaultAppPackage is the package name of the demo app.
const DefaultAppPackage = "com.mobileapp"

// Validate reports whether the identity is complete enough to register.
func (a AppIdentity) Validate() error {
	if a.Package == "" {
		return fmt.Errorf("app package is not configured")
	}
	if a.SenderID == "" {
		return fmt.Errorf("sender ID is not configured")
	}
	return nil
}

// AndroidDeviceInfo describes the Android device this client pretends to be
// during checkin and registration.
type AndroidDeviceInfo struct {
	// BuildFingerprint: brand/product/device:version/build_id/build_number:user/release-keys
	BuildFingerprint string

	SDKVersion int
	GMSVersion int

	// Device is the codename (Build.DEVICE), Model the marketing name.
	Device string
	Model  string

	// ChromeVersion feeds the X-cliv IID client version.
	ChromeVersion string

	Hardware     string
	Brand        string
	Manufacturer string
	Product      string
	Bootloader   string
	Radio        string

	// BuildTime is Build.TIME in seconds.
	BuildTime int64
}

// DefaultAndroidDevice returns a Pixel 7 on Android 13 with a matching
// Play Services version.
func DefaultAndroidDevice() AndroidDeviceInfo {
	return AndroidDeviceInfo{
		BuildFingerprint: "google/panther/panther:13/TQ3A.230805.001/10316531:user/release-keys",
		SDKVersion:       33,
		GMSVersion:       241516037,
		Device:           "panther",
		Model:            "Pixel 7",
		Hardware:         "panther",
		Brand:            "google",
		Manufacturer:     "Google",
		Product:          "panther",
		Bootloader:       "slider-1.2-9819352",
		Radio:            "g5300g-230511-230925-B-10484716",
		BuildTime:        1691193600,
		ChromeVersion:    "120.0.6099.144",
	}
}

// userAgent is the GCM user agent for this device.
func (d AndroidDeviceInfo) userAgent() string {
	return fmt.Sprintf("Android-GCM/1.5 (%s %s)", d.Device, d.Model)
}
