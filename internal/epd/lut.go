package epd

// Controller command bytes (SSD1680 datasheet names).
const (
	cmdDriverOutputControl   = 0x01
	cmdDeepSleep             = 0x10
	cmdDataEntryMode         = 0x11
	cmdSWReset               = 0x12
	cmdMasterActivation      = 0x20
	cmdDisplayUpdateControl1 = 0x21
	cmdDisplayUpdateControl2 = 0x22
	cmdWriteRAMBW            = 0x24
	cmdWriteRAMBase          = 0x26
	cmdWriteLUT              = 0x32
	cmdWriteOTPSelection     = 0x37
	cmdBorderWaveform        = 0x3C
	cmdSetRAMXWindow         = 0x44
	cmdSetRAMYWindow         = 0x45
	cmdSetRAMXCounter        = 0x4E
	cmdSetRAMYCounter        = 0x4F
)

// Display update sequences written with cmdDisplayUpdateControl2.
const (
	updateFull         = 0xF7 // clock, analog, load temp + LUT, display, power off
	updatePartialPower = 0xC0 // enable clock and analog only
	updatePartial      = 0x0F // display with the loaded LUT
)

// LUTSize is the waveform table length accepted by cmdWriteLUT.
const LUTSize = 153

// Vendor partial-update waveforms. The two tables differ only in the repeat
// count of the first group (byte 66), which LUTPartialWait sets to 2.
var (
	LUTPartial = [LUTSize]byte{
		0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x80, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x40, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x0A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x00, 0x00, 0x00,
	}

	LUTPartialWait = [LUTSize]byte{
		0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x80, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x40, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x0A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02,
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x00, 0x00, 0x00,
	}
)

// otpSelection is the option block written before a partial update; 0x40 in
// byte 5 enables "ping-pong" mode so RAM 0x26 tracks the previous frame.
var otpSelection = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00}
