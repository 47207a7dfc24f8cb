// Command fastbootctl drives a device over the Fastboot USB protocol:
// reading variables, flashing partitions (splitting oversized images to
// fit the device's advertised transfer budget), erasing, and rebooting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"sparseflash/fastboot"
	"sparseflash/sparse"
)

func usage() {
	fmt.Fprintf(os.Stderr, `fastbootctl - Fastboot USB client

Usage: %s [flags] <action> [args...]

Supported actions:
  getvar <name>          Print one device variable.
  getvars                Print all device variables.
  flash <target> <file>  Flash <file> to <target>, splitting it into
                          the device's advertised max-download-size if
                          needed.
  erase <target>         Erase <target>.
  reboot                 Reboot the device.
  reboot-bootloader      Reboot the device back into the bootloader.
  continue               Resume normal boot.

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var (
		devPath   = flag.String("device", "/dev/bus/usb/001/004", "usbdevfs device node")
		iface     = flag.Int("iface", 0, "fastboot interface number")
		outEP     = flag.Int("out-ep", 0x01, "bulk OUT endpoint address")
		inEP      = flag.Int("in-ep", 0x81, "bulk IN endpoint address")
		maxPacket = flag.Int("max-packet", 512, "bulk endpoint max packet size")
		timeout   = flag.Duration("timeout", 30*time.Second, "timeout for the whole action, covering every command it sends")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	transport, err := fastboot.OpenLinuxTransport(*devPath, *iface,
		fastboot.EndpointDescriptor{Address: byte(*outEP), Direction: fastboot.DirectionOut, TransferType: fastboot.TransferBulk, MaxPacketSize: *maxPacket},
		fastboot.EndpointDescriptor{Address: byte(*inEP), Direction: fastboot.DirectionIn, TransferType: fastboot.TransferBulk, MaxPacketSize: *maxPacket},
	)
	if err != nil {
		log.Fatalf("open transport: %v", err)
	}

	client := fastboot.NewClient(transport, log.Default())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "getvar":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		err = getVar(ctx, client, args[1])
	case "getvars":
		err = getAllVars(ctx, client)
	case "flash":
		if len(args) != 3 {
			usage()
			os.Exit(1)
		}
		err = flashTarget(ctx, client, args[1], args[2])
	case "erase":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		err = client.Erase(ctx, args[1])
	case "reboot":
		err = client.Reboot(ctx)
	case "reboot-bootloader":
		err = client.RebootBootloader(ctx)
	case "continue":
		err = client.ContinueBoot(ctx)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func getVar(ctx context.Context, client *fastboot.Client, name string) error {
	value, err := client.GetVar(ctx, name)
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func getAllVars(ctx context.Context, client *fastboot.Client) error {
	vars, err := client.GetAllVars(ctx)
	if err != nil {
		return err
	}
	for k, v := range vars {
		fmt.Printf("%s: %s\n", k, v)
	}
	return nil
}

// defaultMaxDownloadSize is used when the device doesn't report
// max-download-size (some bootloaders omit it, accepting one unbounded
// download).
const defaultMaxDownloadSize = 512 * 1024 * 1024

func flashTarget(ctx context.Context, client *fastboot.Client, target, path string) error {
	budget, err := maxDownloadSize(ctx, client)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if uint64(info.Size()) <= uint64(budget) {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := downloadAndFlash(ctx, client, target, data); err != nil {
			return err
		}
		log.Printf("flashed %s from %s (%d bytes, single transfer)", target, path, len(data))
		return nil
	}

	src, err := sparse.OpenMappedImage(path)
	if err != nil {
		return err
	}
	defer src.Close()

	splits, err := sparse.SplitRaw(uint64(info.Size()), budget)
	if err != nil {
		return fmt.Errorf("split %s for device budget %d: %w", path, budget, err)
	}

	for i, s := range splits {
		data, err := buildSplitBytes(src, s)
		if err != nil {
			return fmt.Errorf("build split %d: %w", i, err)
		}
		if err := downloadAndFlash(ctx, client, target, data); err != nil {
			return fmt.Errorf("split %d/%d: %w", i+1, len(splits), err)
		}
		log.Printf("flashed %s split %d/%d (%d bytes)", target, i+1, len(splits), len(data))
	}
	return nil
}

func downloadAndFlash(ctx context.Context, client *fastboot.Client, target string, data []byte) error {
	dl, err := client.Download(ctx, uint32(len(data)))
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if err := dl.ExtendFromSlice(ctx, data); err != nil {
		return fmt.Errorf("download payload: %w", err)
	}
	if err := dl.Finish(ctx); err != nil {
		return fmt.Errorf("finish download: %w", err)
	}
	return client.Flash(ctx, target)
}

func buildSplitBytes(src *sparse.MappedImage, s sparse.Split) ([]byte, error) {
	headerBytes := s.Header.Encode()
	out := make([]byte, 0, s.SparseSize())
	out = append(out, headerBytes[:]...)

	for _, c := range s.Chunks {
		chunkBytes := c.Header.Encode()
		out = append(out, chunkBytes[:]...)
		if c.Size == 0 {
			continue
		}
		payload := make([]byte, c.Size)
		if _, err := src.ReadAt(payload, int64(c.Offset)); err != nil {
			return nil, err
		}
		out = append(out, payload...)
	}
	return out, nil
}

// maxDownloadSize reads the device's advertised transfer budget, falling
// back to defaultMaxDownloadSize if it's absent or unparseable.
func maxDownloadSize(ctx context.Context, client *fastboot.Client) (uint32, error) {
	raw, err := client.GetVar(ctx, "max-download-size")
	if err != nil {
		var devErr *fastboot.DeviceError
		if errors.As(err, &devErr) {
			return defaultMaxDownloadSize, nil
		}
		return 0, err
	}
	size, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return defaultMaxDownloadSize, nil
	}
	return uint32(size), nil
}
