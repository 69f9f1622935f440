package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	zinvul "github.com/byzin/Zinvul-sub001"
)

// mandelbrotModule is the GPU module id of the demo kernel.
const mandelbrotModule zinvul.ModuleID = 1

// mandelParams is the pod argument of the demo kernel. Its layout matches
// the Params struct in mandelbrotWGSL.
type mandelParams struct {
	Width   uint32
	Height  uint32
	MaxIter uint32
	CenterX float32
	CenterY float32
	Scale   float32
}

const mandelbrotWGSL = `
struct Params {
    width: u32,
    height: u32,
    max_iter: u32,
    center_x: f32,
    center_y: f32,
    scale: f32,
}

@group(0) @binding(0) var<storage, read_write> counts: array<u32>;
@group(0) @binding(1) var<storage, read> params: Params;

@compute @workgroup_size(LOCAL_SIZE_2D_X, LOCAL_SIZE_2D_Y, LOCAL_SIZE_2D_Z)
fn mandelbrot(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.width || id.y >= params.height) {
        return;
    }
    let fx = (f32(id.x) + 0.5) / f32(params.width) * 2.0 - 1.0;
    let fy = (f32(id.y) + 0.5) / f32(params.height) * 2.0 - 1.0;
    let cr = params.center_x + fx * params.scale * f32(params.width) / f32(params.height);
    let ci = params.center_y + fy * params.scale;

    var zr = 0.0;
    var zi = 0.0;
    var i = 0u;
    loop {
        if (i >= params.max_iter || zr * zr + zi * zi > 4.0) {
            break;
        }
        let t = zr * zr - zi * zi + cr;
        zi = 2.0 * zr * zi + ci;
        zr = t;
        i = i + 1u;
    }
    counts[id.y * params.width + id.x] = i;
}
`

func init() {
	zinvul.RegisterWGSL(mandelbrotModule, "mandelbrot", mandelbrotWGSL)
}

// mandelbrotEntry is the CPU entry point of the demo kernel.
func mandelbrotEntry(wg *zinvul.WorkGroup, args *zinvul.Args) {
	counts := zinvul.BufferArg[uint32](args, 0)
	p := zinvul.PodArg[mandelParams](args, 1)
	x, y := wg.GlobalID(0), wg.GlobalID(1)
	if x >= p.Width || y >= p.Height {
		return
	}
	counts[y*p.Width+x] = escapeTime(p, x, y)
}

func escapeTime(p mandelParams, x, y uint32) uint32 {
	fx := (float32(x)+0.5)/float32(p.Width)*2 - 1
	fy := (float32(y)+0.5)/float32(p.Height)*2 - 1
	cr := p.CenterX + fx*p.Scale*float32(p.Width)/float32(p.Height)
	ci := p.CenterY + fy*p.Scale

	var zr, zi float32
	var i uint32
	for ; i < p.MaxIter && zr*zr+zi*zi <= 4; i++ {
		zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
	}
	return i
}

var mandelbrotDef = zinvul.KernelDef{
	Name:      "mandelbrot",
	Dimension: 2,
	Params: []zinvul.Param{
		zinvul.GlobalParam[uint32](),
		zinvul.PodParam[mandelParams](),
	},
	Entry:      mandelbrotEntry,
	Module:     mandelbrotModule,
	EntryPoint: "mandelbrot",
}

type demoConfig struct {
	device      int
	size        int
	supersample int
	maxIter     int
	centerX     float64
	centerY     float64
	scale       float64
	out         string
}

func newDemoCmd(g *globalFlags) *cobra.Command {
	cfg := demoConfig{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Render the Mandelbrot set with a compute kernel and save it as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.OutOrStdout(), cfg, g.options())
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.device, "device", 0, "device index as listed by 'zinvul devices'")
	f.IntVar(&cfg.size, "size", 512, "output image edge length in pixels")
	f.IntVar(&cfg.supersample, "supersample", 2, "render at this multiple of --size and downsample")
	f.IntVar(&cfg.maxIter, "iterations", 256, "maximum escape iterations")
	f.Float64Var(&cfg.centerX, "cx", -0.5, "real part of the view center")
	f.Float64Var(&cfg.centerY, "cy", 0, "imaginary part of the view center")
	f.Float64Var(&cfg.scale, "scale", 1.25, "half height of the view in the complex plane")
	f.StringVar(&cfg.out, "out", "mandelbrot.png", "output PNG file")
	return cmd
}

func runDemo(w io.Writer, cfg demoConfig, opts []zinvul.Option) error {
	if cfg.size <= 0 || cfg.supersample <= 0 || cfg.maxIter <= 0 {
		return fmt.Errorf("size, supersample and iterations must be positive")
	}
	infos := zinvul.Enumerate(opts...)
	if cfg.device < 0 || cfg.device >= len(infos) {
		return fmt.Errorf("device %d not found, %d available", cfg.device, len(infos))
	}
	info := infos[cfg.device]

	dev, err := zinvul.NewDevice(info, opts...)
	if err != nil {
		return err
	}
	defer dev.Destroy()

	edge := uint32(cfg.size * cfg.supersample)
	params := mandelParams{
		Width:   edge,
		Height:  edge,
		MaxIter: uint32(cfg.maxIter),
		CenterX: float32(cfg.centerX),
		CenterY: float32(cfg.centerY),
		Scale:   float32(cfg.scale),
	}

	start := time.Now()
	counts, err := renderCounts(dev, params)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	img := colorize(counts, params)
	if cfg.supersample > 1 {
		img = downsample(img, cfg.size)
	}
	if err := writePNG(cfg.out, img); err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(w, "rendered %d pixels on %s in %v, wrote %s\n",
		int(edge)*int(edge), info, elapsed.Round(time.Millisecond), cfg.out)
	return nil
}

// renderCounts runs the escape-time kernel on dev and returns the
// iteration count of every pixel.
func renderCounts(dev zinvul.Device, params mandelParams) ([]uint32, error) {
	n := int(params.Width * params.Height)

	counts, err := zinvul.NewBuffer[uint32](dev, zinvul.DescriptorStorage, zinvul.UsageHostRead)
	if err != nil {
		return nil, err
	}
	defer counts.Clear()
	if err := counts.SetSize(n); err != nil {
		return nil, err
	}

	pod, err := zinvul.NewBuffer[mandelParams](dev, zinvul.DescriptorUniform, zinvul.UsageHostWrite)
	if err != nil {
		return nil, err
	}
	defer pod.Clear()
	if err := pod.SetSize(1); err != nil {
		return nil, err
	}
	if err := pod.Write([]mandelParams{params}, 0, 0); err != nil {
		return nil, err
	}

	k, err := zinvul.NewKernel(dev, mandelbrotDef)
	if err != nil {
		return nil, err
	}
	defer k.Destroy()

	opts := k.MakeOptions()
	opts.WorkSize = [3]uint32{params.Width, params.Height, 1}
	if err := k.Run(opts, counts, pod); err != nil {
		return nil, err
	}
	if err := dev.WaitQueue(opts.QueueIndex); err != nil {
		return nil, err
	}

	out := make([]uint32, n)
	if err := counts.Read(out, 0, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// colorize maps iteration counts to a smooth palette; points inside the set
// are black.
func colorize(counts []uint32, p mandelParams) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(p.Width), int(p.Height)))
	for i, c := range counts {
		x, y := i%int(p.Width), i/int(p.Width)
		if c >= p.MaxIter {
			img.SetRGBA(x, y, color.RGBA{A: 255})
			continue
		}
		t := float64(c) / float64(p.MaxIter)
		u := 1 - t
		img.SetRGBA(x, y, color.RGBA{
			R: uint8(min(255, 9*u*t*t*t*255)),
			G: uint8(min(255, 15*u*u*t*t*255)),
			B: uint8(min(255, 8.5*u*u*u*t*255)),
			A: 255,
		})
	}
	return img
}

func downsample(src *image.RGBA, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
