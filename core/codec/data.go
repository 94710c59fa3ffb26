package codec

import (
	"encoding/binary"
	"fmt"
)

// DataScale is the fixed-point factor for battery, temperature and humidity.
const DataScale = 100

// DataMessage is a telemetry sample from a leaf node.
//
// Wire format (19 bytes, all multi-byte fields LE):
//
//	[tag(1)][node(1)][message(4)][time(4)][battery(2)][last_tx_duration(2)]
//	[temp(2, signed)][humidity(2)][status(1)]
type DataMessage struct {
	Node           uint8
	Message        uint32 // Sender's sequence number
	Time           uint32 // UNIX epoch seconds
	Battery        uint16 // Volts * 100
	LastTxDuration uint16 // Duration of the previous transmission in ms
	Temp           int16  // Degrees C * 100
	Humidity       uint16 // % relative humidity * 100
	Status         uint8  // Opaque sensor/device status code
}

// BuildDataMessage builds a wire-format DATA_MESSAGE.
func BuildDataMessage(node uint8, message, time uint32, battery, lastTxDuration uint16,
	temp int16, humidity uint16, status uint8) []byte {
	data := make([]byte, DataMessageSize)
	data[0] = byte(TypeDataMessage)
	putDataFields(data[1:], node, message, time, battery, lastTxDuration, temp, humidity, status)
	return data
}

// ParseDataMessage parses a DATA_MESSAGE.
func ParseDataMessage(data []byte) (*DataMessage, error) {
	if err := checkHeader(data, TypeDataMessage, DataMessageSize); err != nil {
		return nil, err
	}
	return readDataFields(data[1:]), nil
}

// ParseLegacyDataPacket decodes the untagged 18-byte telemetry layout sent
// by older leaf firmware. The layout carries no tag, so only the size is
// checked and the caller must already know the buffer holds a data packet.
func ParseLegacyDataPacket(data []byte) (*DataMessage, error) {
	if len(data) != LegacyDataPacketSize {
		return nil, fmt.Errorf("%w: legacy data packet is %d bytes, got %d",
			ErrSizeMismatch, LegacyDataPacketSize, len(data))
	}
	return readDataFields(data), nil
}

// putDataFields writes the telemetry fields that follow the tag.
func putDataFields(data []byte, node uint8, message, time uint32, battery, lastTxDuration uint16,
	temp int16, humidity uint16, status uint8) {
	data[0] = node
	binary.LittleEndian.PutUint32(data[1:5], message)
	binary.LittleEndian.PutUint32(data[5:9], time)
	binary.LittleEndian.PutUint16(data[9:11], battery)
	binary.LittleEndian.PutUint16(data[11:13], lastTxDuration)
	binary.LittleEndian.PutUint16(data[13:15], uint16(temp))
	binary.LittleEndian.PutUint16(data[15:17], humidity)
	data[17] = status
}

func readDataFields(data []byte) *DataMessage {
	return &DataMessage{
		Node:           data[0],
		Message:        binary.LittleEndian.Uint32(data[1:5]),
		Time:           binary.LittleEndian.Uint32(data[5:9]),
		Battery:        binary.LittleEndian.Uint16(data[9:11]),
		LastTxDuration: binary.LittleEndian.Uint16(data[11:13]),
		Temp:           int16(binary.LittleEndian.Uint16(data[13:15])),
		Humidity:       binary.LittleEndian.Uint16(data[15:17]),
		Status:         data[17],
	}
}

func (m *DataMessage) Type() MessageType { return TypeDataMessage }

// Bytes returns the wire encoding of the message.
func (m *DataMessage) Bytes() []byte {
	return BuildDataMessage(m.Node, m.Message, m.Time, m.Battery, m.LastTxDuration,
		m.Temp, m.Humidity, m.Status)
}

func (m *DataMessage) MarshalBinary() ([]byte, error) { return m.Bytes(), nil }

// UnmarshalBinary decodes data into m. On error m is left unchanged.
func (m *DataMessage) UnmarshalBinary(data []byte) error {
	parsed, err := ParseDataMessage(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// BatteryVolts returns the battery voltage in volts.
func (m *DataMessage) BatteryVolts() float64 {
	return float64(m.Battery) / DataScale
}

// TempCelsius returns the temperature in degrees Celsius.
func (m *DataMessage) TempCelsius() float64 {
	return float64(m.Temp) / DataScale
}

// HumidityPercent returns the relative humidity in percent.
func (m *DataMessage) HumidityPercent() float64 {
	return float64(m.Humidity) / DataScale
}

// Render returns the message as text. The compact form keeps the scaled
// integers as sent; the pretty form divides them by DataScale and adds units.
func (m *DataMessage) Render(pretty bool) string {
	if pretty {
		return fmt.Sprintf("type: %s, node: %d, message: %d, time: %d, battery: %s V, "+
			"last tx duration: %d ms, temp: %s °C, humidity: %s %%RH, status: %s",
			TypeDataMessage, m.Node, m.Message, m.Time, formatScaled(int32(m.Battery)),
			m.LastTxDuration, formatScaled(int32(m.Temp)), formatScaled(int32(m.Humidity)),
			formatStatus(m.Status))
	}
	return fmt.Sprintf("%d, %d, %d, %d, %d, %d, %d, %s",
		m.Node, m.Message, m.Time, m.Battery, m.LastTxDuration, m.Temp, m.Humidity,
		formatStatus(m.Status))
}

func (m *DataMessage) String() string { return m.Render(false) }
