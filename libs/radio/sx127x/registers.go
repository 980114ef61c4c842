package sx127x

// Register is an SX1276/77/78/79-family register address. This chip
// family addresses registers with a single byte.
type Register uint8

const (
	RegFifo          Register = 0x00
	RegOpMode        Register = 0x01
	RegFrfMsb        Register = 0x06
	RegFrfMid        Register = 0x07
	RegFrfLsb        Register = 0x08
	RegPaConfig      Register = 0x09
	RegPaRamp        Register = 0x0A
	RegOcp           Register = 0x0B
	RegLna           Register = 0x0C
	RegFifoAddrPtr   Register = 0x0D
	RegFifoTxBaseAddr Register = 0x0E
	RegFifoRxBaseAddr Register = 0x0F
	RegFifoRxCurrentAddr Register = 0x10
	RegIrqFlagsMask  Register = 0x11
	RegIrqFlags      Register = 0x12
	RegRxNbBytes     Register = 0x13
	RegModemStat     Register = 0x18
	RegPktSnrValue   Register = 0x19
	RegPktRssiValue  Register = 0x1A
	RegRssiValue     Register = 0x1B
	RegHopChannel    Register = 0x1C
	RegModemConfig1  Register = 0x1D
	RegModemConfig2  Register = 0x1E
	RegSymbTimeoutLsb Register = 0x1F
	RegPreambleMsb   Register = 0x20
	RegPreambleLsb   Register = 0x21
	RegPayloadLength Register = 0x22
	RegMaxPayloadLength Register = 0x23
	RegHopPeriod     Register = 0x24
	RegFifoRxByteAddr Register = 0x25
	RegModemConfig3  Register = 0x26
	RegPpmCorrection Register = 0x27
	RegFeiMsb        Register = 0x28
	RegFeiMid        Register = 0x29
	RegFeiLsb        Register = 0x2A
	RegDetectOptimize Register = 0x31
	RegInvertIQ      Register = 0x33
	RegDetectionThreshold Register = 0x37
	RegSyncWord      Register = 0x39
	RegDioMapping1   Register = 0x40
	RegDioMapping2   Register = 0x41
	RegVersion       Register = 0x42
	RegPaDac         Register = 0x4D

	// FSK/OOK-mode registers (RegOpMode LongRangeMode bit cleared).
	RegBitrateMsb    Register = 0x02
	RegBitrateLsb    Register = 0x03
	RegFdevMsb       Register = 0x04
	RegFdevLsb       Register = 0x05
	RegRxBw          Register = 0x12
	RegPreambleDetect Register = 0x1F
	RegSyncConfig    Register = 0x27
	RegSyncValue1    Register = 0x28
	RegPacketConfig1 Register = 0x30
	RegPacketConfig2 Register = 0x31
	RegFifoThresh    Register = 0x35
)

// OpMode is the RegOpMode mode field (bits 2:0).
type OpMode uint8

const (
	OpModeSleep       OpMode = 0x00
	OpModeStandby     OpMode = 0x01
	OpModeFSTx        OpMode = 0x02
	OpModeTx          OpMode = 0x03
	OpModeFSRx        OpMode = 0x04
	OpModeRxContinuous OpMode = 0x05
	OpModeRxSingle    OpMode = 0x06
	OpModeCAD         OpMode = 0x07

	opModeLongRangeBit = 1 << 7
	opModeModeMask     = 0x07
)

// IRQ flag bits (RegIrqFlags, LoRa mode).
const (
	IRQRxTimeout IRQFlags = 1 << 7
	IRQRxDone    IRQFlags = 1 << 6
	IRQPayloadCRCError IRQFlags = 1 << 5
	IRQValidHeader IRQFlags = 1 << 4
	IRQTxDone    IRQFlags = 1 << 3
	IRQCADDone   IRQFlags = 1 << 2
	IRQFHSSChangeChannel IRQFlags = 1 << 1
	IRQCADDetected IRQFlags = 1 << 0
)

type IRQFlags uint8

const writeBit = 0x80

// ExpectedVersion is the RegVersion silicon revision every SX127x reports;
// Init checks it to catch a dead or miswired chip before anything else
// touches the bus.
const ExpectedVersion = 0x12

const fifoSize = 255
