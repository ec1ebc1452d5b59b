//go:build linux && arm && cgo && waveshare_c

// cgo-backed EPD driver wrapper.
//
// Links against the Waveshare C SDK (DEV_Config.c + EPD_7in3e.c) built as
// internal/epd/c/libepddrv.a. Expected symbols:
//
//	UBYTE DEV_Module_Init(void);
//	void  DEV_Module_Exit(void);
//	void  EPD_7IN3E_Init(void);
//	void  EPD_7IN3E_Clear(UBYTE color);
//	void  EPD_7IN3E_Display(UBYTE *Image);
//	void  EPD_7IN3E_Sleep(void);

package epd

/*
#cgo linux,arm CFLAGS: -I${SRCDIR}/c
#cgo linux,arm LDFLAGS: -L${SRCDIR}/c -lepddrv -llgpio

#include <stdint.h>
#include "EPD_7in3e.h"
#include "DEV_Config.h"
*/
import "C"

import (
	"context"
	"fmt"
	"unsafe"

	"epdpi/internal/palette"
)

// CDriver calls straight into the vendor C library. The C calls block and
// cannot be cancelled; ctx is only checked before starting.
type CDriver struct{}

// Init runs DEV_Module_Init + EPD_7IN3E_Init.
func (d *CDriver) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// DEV_Module_Init returns 0 on success.
	if ret := C.DEV_Module_Init(); ret != 0 {
		return fmt.Errorf("epd(cgo): DEV_Module_Init failed (ret=%d)", int(ret))
	}
	C.EPD_7IN3E_Init()
	return nil
}

func (d *CDriver) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	C.EPD_7IN3E_Clear(C.uint8_t(palette.CodeWhite))
	return nil
}

// Display expects a packed BufferSize-byte 4bpp buffer.
func (d *CDriver) Display(ctx context.Context, buf []byte) error {
	if len(buf) != BufferSize {
		return fmt.Errorf("epd(cgo): invalid buffer size %d, expected %d", len(buf), BufferSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	C.EPD_7IN3E_Display((*C.uint8_t)(unsafe.Pointer(&buf[0])))
	return nil
}

// Sleep runs EPD_7IN3E_Sleep + DEV_Module_Exit.
func (d *CDriver) Sleep(context.Context) error {
	C.EPD_7IN3E_Sleep()
	C.DEV_Module_Exit()
	return nil
}
