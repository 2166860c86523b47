package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/clients"
	"ampease/backend/services/charger-service/internal/models"
)

// DefaultCloudURL is the TP-Link Kasa cloud endpoint.
const DefaultCloudURL = "https://wap.tplinkcloud.com"

const (
	appType          = "Kasa_Android"
	tokenExpiredCode = -20651
	locationScale    = 10000
)

// CloudError is a non-zero error_code reply from the cloud.
type CloudError struct {
	Code    int
	Message string
}

func (e *CloudError) Error() string {
	return fmt.Sprintf("tplink cloud error %d: %s", e.Code, e.Message)
}

// DeviceInfo is one entry of getDeviceList.
type DeviceInfo struct {
	DeviceID     string `json:"deviceId"`
	Alias        string `json:"alias"`
	AppServerURL string `json:"appServerUrl"`
	Model        string `json:"deviceModel"`
	Status       int    `json:"status"`
}

type cloudRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type cloudResponse struct {
	ErrorCode int             `json:"error_code"`
	Msg       string          `json:"msg"`
	Result    json.RawMessage `json:"result"`
}

// CloudClient talks to the Kasa cloud on behalf of one account.
type CloudClient struct {
	base       *clients.BaseClient
	email      string
	password   string
	terminalID string
	logger     *zap.Logger

	mu    sync.Mutex
	token string
}

// NewCloudClient returns a client; login happens lazily on first use.
func NewCloudClient(baseURL, email, password string, httpClient clients.HTTPDoer, logger *zap.Logger) *CloudClient {
	if baseURL == "" {
		baseURL = DefaultCloudURL
	}
	return &CloudClient{
		base:       clients.NewBaseClient(baseURL, httpClient, nil),
		email:      email,
		password:   password,
		terminalID: uuid.NewString(),
		logger:     logger,
	}
}

// Devices lists the devices on the account.
func (c *CloudClient) Devices(ctx context.Context) ([]Device, error) {
	var result struct {
		DeviceList []DeviceInfo `json:"deviceList"`
	}
	if err := c.call(ctx, c.base.BaseURL(), "getDeviceList", nil, &result); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(result.DeviceList))
	for _, info := range result.DeviceList {
		devices = append(devices, &cloudDevice{client: c, info: info})
	}
	return devices, nil
}

func (c *CloudClient) login(ctx context.Context) (string, error) {
	params := map[string]string{
		"appType":       appType,
		"cloudUserName": c.email,
		"cloudPassword": c.password,
		"terminalUUID":  c.terminalID,
	}
	var resp cloudResponse
	if err := c.base.DoJSON(ctx, http.MethodPost, "/", cloudRequest{Method: "login", Params: params}, &resp); err != nil {
		return "", fmt.Errorf("tplink login: %w", err)
	}
	if resp.ErrorCode != 0 {
		return "", &CloudError{Code: resp.ErrorCode, Message: resp.Msg}
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("tplink login: decode result: %w", err)
	}
	if result.Token == "" {
		return "", errors.New("tplink login: empty token")
	}
	return result.Token, nil
}

func (c *CloudClient) currentToken(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !refresh {
		return c.token, nil
	}
	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// call posts method to endpoint with the session token, logging in again once if it expired.
func (c *CloudClient) call(ctx context.Context, endpoint, method string, params, out interface{}) error {
	refresh := false
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.currentToken(ctx, refresh)
		if err != nil {
			return err
		}

		var resp cloudResponse
		target := endpoint + "/?token=" + url.QueryEscape(token)
		if err := c.base.DoJSON(ctx, http.MethodPost, target, cloudRequest{Method: method, Params: params}, &resp); err != nil {
			return fmt.Errorf("tplink %s: %w", method, err)
		}
		if resp.ErrorCode == tokenExpiredCode {
			c.logger.Info("tplink token expired, logging in again")
			refresh = true
			continue
		}
		if resp.ErrorCode != 0 {
			return &CloudError{Code: resp.ErrorCode, Message: resp.Msg}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("tplink %s: decode result: %w", method, err)
		}
		return nil
	}
	return &CloudError{Code: tokenExpiredCode, Message: "token expired after re-login"}
}

// passthrough relays a local-protocol request to the plug through its app server.
func (c *CloudClient) passthrough(ctx context.Context, info DeviceInfo, request, out interface{}) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	params := map[string]string{
		"deviceId":    info.DeviceID,
		"requestData": string(data),
	}

	endpoint := info.AppServerURL
	if endpoint == "" {
		endpoint = c.base.BaseURL()
	}

	var result struct {
		ResponseData string `json:"responseData"`
	}
	if err := c.call(ctx, endpoint, "passthrough", params, &result); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(result.ResponseData), out); err != nil {
		return fmt.Errorf("tplink passthrough: decode response data: %w", err)
	}
	return nil
}

type sysInfoReply struct {
	System struct {
		GetSysinfo struct {
			ErrCode    int      `json:"err_code"`
			Alias      string   `json:"alias"`
			RelayState int      `json:"relay_state"`
			LatitudeI  *int64   `json:"latitude_i"`
			LongitudeI *int64   `json:"longitude_i"`
			Latitude   *float64 `json:"latitude"`
			Longitude  *float64 `json:"longitude"`
		} `json:"get_sysinfo"`
	} `json:"system"`
}

type relayReply struct {
	System struct {
		SetRelayState struct {
			ErrCode int    `json:"err_code"`
			ErrMsg  string `json:"err_msg"`
		} `json:"set_relay_state"`
	} `json:"system"`
}

type cloudDevice struct {
	client *CloudClient
	info   DeviceInfo
}

func (d *cloudDevice) Alias() string {
	return d.info.Alias
}

func (d *cloudDevice) sysInfo(ctx context.Context) (sysInfoReply, error) {
	var reply sysInfoReply
	request := map[string]interface{}{"system": map[string]interface{}{"get_sysinfo": map[string]interface{}{}}}
	if err := d.client.passthrough(ctx, d.info, request, &reply); err != nil {
		return reply, err
	}
	if code := reply.System.GetSysinfo.ErrCode; code != 0 {
		return reply, &CloudError{Code: code, Message: "get_sysinfo failed"}
	}
	return reply, nil
}

func (d *cloudDevice) IsOn(ctx context.Context) (bool, error) {
	reply, err := d.sysInfo(ctx)
	if err != nil {
		return false, err
	}
	return reply.System.GetSysinfo.RelayState == 1, nil
}

func (d *cloudDevice) setRelay(ctx context.Context, on bool) error {
	state := 0
	if on {
		state = 1
	}
	request := map[string]interface{}{
		"system": map[string]interface{}{"set_relay_state": map[string]int{"state": state}},
	}
	var reply relayReply
	if err := d.client.passthrough(ctx, d.info, request, &reply); err != nil {
		return err
	}
	if r := reply.System.SetRelayState; r.ErrCode != 0 {
		return &CloudError{Code: r.ErrCode, Message: r.ErrMsg}
	}
	return nil
}

func (d *cloudDevice) PowerOn(ctx context.Context) error {
	return d.setRelay(ctx, true)
}

func (d *cloudDevice) PowerOff(ctx context.Context) error {
	return d.setRelay(ctx, false)
}

func (d *cloudDevice) Toggle(ctx context.Context) error {
	on, err := d.IsOn(ctx)
	if err != nil {
		return err
	}
	return d.setRelay(ctx, !on)
}

func (d *cloudDevice) Location(ctx context.Context) (models.Coordinates, error) {
	reply, err := d.sysInfo(ctx)
	if err != nil {
		return models.Coordinates{}, err
	}
	info := reply.System.GetSysinfo
	switch {
	case info.LatitudeI != nil && info.LongitudeI != nil:
		return models.Coordinates{
			Lat: float64(*info.LatitudeI) / locationScale,
			Lon: float64(*info.LongitudeI) / locationScale,
		}, nil
	case info.Latitude != nil && info.Longitude != nil:
		return models.Coordinates{Lat: *info.Latitude, Lon: *info.Longitude}, nil
	default:
		return models.Coordinates{}, nil
	}
}
