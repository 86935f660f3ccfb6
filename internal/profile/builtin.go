package profile

import "github.com/derSebastian/ble-printer-probe/internal/protocol"

// builtinVersion tracks revisions of the compiled-in table.
const builtinVersion = 4

// Builtin returns the compiled-in profile database covering the common
// hobbyist thermal printers. It is the fallback when no database file is
// configured and the seed for `profiles update`.
func Builtin() *Database {
	db, err := New(builtinVersion, []*Profile{
		{
			ID:       "gb01",
			Name:     "Cat Printer (GB01 family)",
			Protocol: protocol.GT01,
			BLE: BLE{
				ServiceUUID:    "ae30",
				WriteCharUUID:  "ae01",
				NotifyCharUUID: "ae02",
				ChunkSize:      20,
				ChunkDelayMs:   20,
			},
			Paper:    Paper{WidthPx: 384, WidthMm: 57},
			Variants: []string{"GB01", "GB02", "GB03", "GT01", "YT01"},
		},
		{
			ID:       "mxw01",
			Name:     "Cat Printer (MXW01)",
			Protocol: protocol.GT01,
			BLE: BLE{
				ServiceUUID:    "af30",
				WriteCharUUID:  "ae01",
				NotifyCharUUID: "ae02",
				ChunkSize:      20,
				ChunkDelayMs:   20,
			},
			Paper:    Paper{WidthPx: 384, WidthMm: 57},
			Variants: []string{"MXW01"},
		},
		{
			ID:       "phomemo-t02",
			Name:     "Phomemo T02 / M02",
			Protocol: protocol.ESCPOS,
			BLE: BLE{
				ServiceUUID:    "ff00",
				WriteCharUUID:  "ff02",
				NotifyCharUUID: "ff03",
				ChunkSize:      128,
				ChunkDelayMs:   25,
				MTU:            247,
			},
			Paper:    Paper{WidthPx: 384, WidthMm: 53},
			Variants: []string{"T02", "M02", "M02S"},
		},
		{
			ID:       "d1",
			Name:     "D1 Label Printer",
			Protocol: protocol.D1,
			BLE: BLE{
				ServiceUUID:    "ff00",
				WriteCharUUID:  "ff02",
				NotifyCharUUID: "ff01",
				ChunkSize:      128,
				ChunkDelayMs:   25,
			},
			Paper:    Paper{WidthPx: 384, WidthMm: 58},
			Variants: []string{"D1", "D1-Mini"},
			Notes:    "staged bitmap protocol; wake padding required after sleep",
		},
		{
			ID:       "pt210",
			Name:     "GOOJPRT PT-210",
			Protocol: protocol.ESCPOS,
			BLE: BLE{
				ServiceUUID:    "18f0",
				WriteCharUUID:  "2af1",
				NotifyCharUUID: "2af0",
				ChunkSize:      20,
				ChunkDelayMs:   30,
			},
			Paper:    Paper{WidthPx: 384, WidthMm: 58},
			Variants: []string{"PT-210", "MTP-2"},
		},
		{
			ID:       "issc-spp",
			Name:     "Generic ISSC serial printer",
			Protocol: protocol.ESCPOS,
			BLE: BLE{
				ServiceUUID:    "49535343-fe7d-4ae5-8fa9-9fafd205e455",
				WriteCharUUID:  "49535343-8841-43f4-a8d4-ecbe34729bb3",
				NotifyCharUUID: "49535343-1e4d-4bd9-ba61-23c647249616",
				ChunkSize:      20,
				ChunkDelayMs:   30,
			},
			Paper: Paper{WidthPx: 384, WidthMm: 58},
			Notes: "ISSC/Microchip transparent UART service; many rebadged 58mm receipt printers",
		},
		{
			ID:       "jx-58",
			Name:     "JX-58 (unidentified write protocol)",
			Protocol: protocol.Unknown,
			BLE: BLE{
				ServiceUUID: "e7810a71-73ae-499d-8c15-faa9aef0c3f2",
			},
			Paper: Paper{WidthPx: 384, WidthMm: 58},
			Notes: "identification only; no confirmed working write protocol yet",
		},
	})
	if err != nil {
		panic(err) // the table above is validated by tests
	}
	return db
}
