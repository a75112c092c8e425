package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to stop processing. With exit set the daemon
// process terminates afterwards.
func (c *Client) Stop(exit bool) (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{Exit: exit})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Stats retrieves per-state asset counts.
func (c *Client) Stats() (*StatsResponse, error) {
	return call[StatsResponse](c, "Stats", StatsRequest{})
}

// AssetList returns assets matching the filter.
func (c *Client) AssetList(req AssetListRequest) (*AssetListResponse, error) {
	return call[AssetListResponse](c, "AssetList", req)
}

// AssetDescribe returns one asset by id or path.
func (c *Client) AssetDescribe(ref string) (*AssetResponse, error) {
	return call[AssetResponse](c, "AssetDescribe", AssetRequest{Ref: ref})
}

// AssetUses lists the assets depending on or referencing ref.
func (c *Client) AssetUses(ref string, transitive bool) (*UsesResponse, error) {
	return call[UsesResponse](c, "AssetUses", UsesRequest{Ref: ref, Transitive: transitive})
}

// Scan runs a full filesystem sweep.
func (c *Client) Scan() (*StatsResponse, error) {
	return call[StatsResponse](c, "Scan", ScanRequest{})
}

// Retry clears the transform error of one asset.
func (c *Client) Retry(ref string) (*AssetResponse, error) {
	return call[AssetResponse](c, "Retry", AssetRequest{Ref: ref})
}

// RetryFailed clears every transform error.
func (c *Client) RetryFailed() (*CountResponse, error) {
	return call[CountResponse](c, "RetryFailed", EmptyRequest{})
}

// Transform explicitly requests one asset.
func (c *Client) Transform(ref string) (*AssetResponse, error) {
	return call[AssetResponse](c, "Transform", AssetRequest{Ref: ref})
}

// TransformAll requests every asset.
func (c *Client) TransformAll() (*CountResponse, error) {
	return call[CountResponse](c, "TransformAll", EmptyRequest{})
}

// SetPlatform switches the active platform.
func (c *Client) SetPlatform(name string) (*PlatformResponse, error) {
	return call[PlatformResponse](c, "SetPlatform", PlatformRequest{Name: name})
}

// SaveCaches persists curator caches.
func (c *Client) SaveCaches() error {
	_, err := call[CountResponse](c, "SaveCaches", EmptyRequest{})
	return err
}

// LogTail returns raw lines from the daemon log file.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}

// LogFetch queries the structured log stream.
func (c *Client) LogFetch(req LogFetchRequest) (*LogFetchResponse, error) {
	return call[LogFetchResponse](c, "LogFetch", req)
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
