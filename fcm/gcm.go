package fcm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Package-level so tests can point them at httptest servers.
var (
	gcmCheckinURL  = "https://android.clients.google.com/checkin"
	gcmRegisterURL = "https://android.clients.google.com/c2dm/register3"
)

// gcmCredentials is the device identity handed out by checkin.
type gcmCredentials struct {
	AndroidID     uint64 `json:"androidId"`
	SecurityToken uint64 `json:"securityToken"`
}

// gcmCheckin checks the device in. Non-zero androidID and securityToken
// re-check an existing device instead of creating a new one.
func gcmCheckin(ctx context.Context, httpClient *http.Client, androidID, securityToken uint64, device AndroidDeviceInfo) (gcmCredentials, error) {
	req := checkinRequest{
		ID:            int64(androidID),
		SecurityToken: securityToken,
		Build: checkinBuild{
			Fingerprint:        device.BuildFingerprint,
			Hardware:           device.Hardware,
			Brand:              device.Brand,
			Radio:              device.Radio,
			Bootloader:         device.Bootloader,
			ClientID:           "android-google",
			Time:               device.BuildTime,
			PackageVersionCode: int32(device.GMSVersion),
			Device:             device.Device,
			SDKVersion:         int32(device.SDKVersion),
			Model:              device.Model,
			Manufacturer:       device.Manufacturer,
			Product:            device.Product,
		},
		DeviceType: deviceTypeAndroidOS,
		Locale:     "en_US",
		TimeZone:   "America/New_York",
		Version:    3,
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmCheckinURL, bytes.NewReader(req.marshal()))
	if err != nil {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var checkinResp checkinResponse
	if err := checkinResp.unmarshal(body); err != nil {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: unmarshal response: %w", err)
	}
	if checkinResp.AndroidID == 0 || checkinResp.SecurityToken == 0 {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: response carries no device credentials")
	}
	return gcmCredentials{AndroidID: checkinResp.AndroidID, SecurityToken: checkinResp.SecurityToken}, nil
}

// generateInstanceID returns an 11 character hex instance ID, the shape
// Android's InstanceID library produces.
func generateInstanceID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	return hex.EncodeToString(b)[:11], nil
}

// gcmRegister asks c2dm/register3 for a token scoped to app. For an
// Android-native registration the returned GCM token is the FCM token.
func gcmRegister(ctx context.Context, httpClient *http.Client, creds gcmCredentials, app AppIdentity, device AndroidDeviceInfo) (string, error) {
	instanceID, err := generateInstanceID()
	if err != nil {
		return "", err
	}

	appVersion := app.Version
	if appVersion == "" {
		appVersion = "1"
	}

	form := url.Values{
		"app":     {app.Package},
		"sender":  {app.SenderID},
		"device":  {strconv.FormatUint(creds.AndroidID, 10)},
		"app_ver": {appVersion},
		"gcm_ver": {strconv.Itoa(device.GMSVersion)},
		"X-scope": {"GCM"},
		"X-appid": {instanceID},
		"X-osv":   {strconv.Itoa(device.SDKVersion)},
		"X-gmsv":  {strconv.Itoa(device.GMSVersion)},
		"X-cliv":  {"iid-" + device.ChromeVersion},
	}
	if app.CertSHA1 != "" {
		form.Set("cert", app.CertSHA1)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmRegisterURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("gcm register: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", fmt.Sprintf("AidLogin %d:%d", creds.AndroidID, creds.SecurityToken))
	httpReq.Header.Set("User-Agent", device.userAgent())
	httpReq.Header.Set("app", app.Package)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gcm register: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gcm register: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gcm register: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	body := strings.TrimSpace(string(respBody))
	if token, found := strings.CutPrefix(body, "token="); found {
		return strings.TrimSpace(token), nil
	}
	// c2dm reports failures as Error=<CODE> with a 200 status.
	if code, found := strings.CutPrefix(body, "Error="); found {
		return "", fmt.Errorf("gcm register: %s", code)
	}
	return "", fmt.Errorf("gcm register: unexpected response: %s", body)
}
