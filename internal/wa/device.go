package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"order-hub/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// DeviceConfig holds configuration to initialise the linked device.
type DeviceConfig struct {
	StorePath string
	LogLevel  string
	Metrics   *metrics.Metrics
}

// DeviceSink receives normalised device traffic.
type DeviceSink interface {
	HandleDeviceMessage(ctx context.Context, msg InboundMessage)
	HandleDeviceReceipt(ctx context.Context, update StatusUpdate)
}

// Device wraps a whatsmeow client paired as a linked device of one business number.
type Device struct {
	client  *whatsmeow.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    DeviceSink
}

// NewDevice creates a linked-device client backed by an SQLite store.
func NewDevice(ctx context.Context, cfg DeviceConfig, logger *slog.Logger) (*Device, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	d := &Device{
		client:  client,
		logger:  logger.With("component", "wa_device"),
		metrics: cfg.Metrics,
	}
	client.AddEventHandler(d.handleEvent)

	return d, nil
}

// SetSink registers the receiver of inbound messages and receipts.
func (d *Device) SetSink(sink DeviceSink) {
	d.sink = sink
}

// Start connects the client and handles the QR pairing flow.
func (d *Device) Start(ctx context.Context) error {
	if d.client.Store.ID == nil {
		d.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := d.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					d.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					d.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := d.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	d.logger.Info("whatsapp device connected")
	return nil
}

// Ready reports whether the device is paired and connected.
func (d *Device) Ready() bool {
	return d.client != nil && d.client.Store.ID != nil && d.client.IsConnected()
}

// Close disconnects the client.
func (d *Device) Close() {
	if d.client != nil {
		d.client.Disconnect()
	}
}

// SendText sends text to a phone number and returns the message id.
func (d *Device) SendText(ctx context.Context, phone, text string) (string, error) {
	if !d.Ready() {
		return "", ErrNotConfigured
	}
	to := types.NewJID(phone, types.DefaultUserServer)
	resp, err := d.client.SendMessage(ctx, to, &waProto.Message{
		Conversation: proto.String(text),
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.ProviderRequests.WithLabelValues("device_send", status).Inc()
	}
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return string(resp.ID), nil
}

func (d *Device) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		d.handleMessage(v)
	case *events.Receipt:
		d.handleReceipt(v)
	case *events.Connected:
		d.logger.Info("device connected")
	case *events.Disconnected:
		d.logger.Warn("device disconnected")
	}
}

func (d *Device) handleMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	if evt.Info.Sender.Server != types.DefaultUserServer {
		d.logger.Debug("skipping message from non-phone sender", "sender", evt.Info.Sender.String())
		return
	}

	msg := InboundMessage{
		ID:        string(evt.Info.ID),
		From:      evt.Info.Sender.User,
		Name:      evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
	}
	m := evt.Message
	switch {
	case m.GetConversation() != "":
		msg.Type, msg.Text = "text", m.GetConversation()
	case m.ExtendedTextMessage != nil:
		msg.Type, msg.Text = "text", m.GetExtendedTextMessage().GetText()
	case m.ImageMessage != nil:
		msg.Type = "image"
	case m.VideoMessage != nil:
		msg.Type = "video"
	case m.AudioMessage != nil:
		msg.Type = "audio"
	case m.DocumentMessage != nil:
		msg.Type = "document"
	case m.LocationMessage != nil:
		msg.Type = "location"
	default:
		msg.Type = "unsupported"
	}
	if raw, err := protojson.Marshal(m); err == nil {
		msg.Raw = raw
	}

	d.logger.Info("received device message", "from", msg.From, "type", msg.Type, "id", msg.ID)
	if d.sink != nil {
		go d.sink.HandleDeviceMessage(context.Background(), msg)
	}
}

func (d *Device) handleReceipt(evt *events.Receipt) {
	var status string
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead:
		status = "read"
	default:
		return
	}
	if d.sink == nil {
		return
	}
	for _, id := range evt.MessageIDs {
		update := StatusUpdate{
			ID:        string(id),
			Status:    status,
			Recipient: evt.Sender.User,
			Timestamp: evt.Timestamp,
		}
		go d.sink.HandleDeviceReceipt(context.Background(), update)
	}
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
