//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"

	"mathsketch/internal/backend"
	"mathsketch/internal/config"
	"mathsketch/internal/crash"
	"mathsketch/internal/domain"
	applog "mathsketch/internal/log"
	"mathsketch/internal/version"
)

// Run opens the drawing window and blocks until it is closed.
func Run(cfg config.AppConfig) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI", slog.String("backend", cfg.Backend.BaseURL))

	client := backend.NewClient(cfg.Backend.BaseURL, "", backend.Options{
		Timeout:     cfg.Backend.Timeout(),
		TLSInsecure: cfg.Backend.TLSInsecure,
	})
	sess, err := NewSession(cfg, client)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer crash.Recover(crashDir(), sess.Board)

	fyneApp := app.NewWithID("mathsketch")
	w := fyneApp.NewWindow("mathsketch")
	prefs := fyneApp.Preferences()
	winW := prefs.IntWithFallback("window.width", cfg.Canvas.Width+40)
	winH := prefs.IntWithFallback("window.height", cfg.Canvas.Height+360)
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	status := widget.NewLabel("Ready")
	sketch := NewSketchCanvas(sess)

	undoBtn := widget.NewButton("Undo", nil)
	redoBtn := widget.NewButton("Redo", nil)
	eraserBtn := widget.NewButton(sess.EraserLabel(), nil)
	syncButtons := func() {
		setEnabled(undoBtn, sess.Board.CanUndo())
		setEnabled(redoBtn, sess.Board.CanRedo())
		eraserBtn.SetText(sess.EraserLabel())
	}
	sketch.OnChange = syncButtons
	syncButtons()

	undoBtn.OnTapped = func() { sess.Board.Undo() }
	redoBtn.OnTapped = func() { sess.Board.Redo() }
	clearBtn := widget.NewButton("Clear", func() { sess.Board.Clear() })
	eraserBtn.OnTapped = func() { sess.Board.ToggleEraser() }

	macros := widget.NewMultiLineEntry()
	macros.SetText(cfg.Prompt.Macros)
	macros.SetMinRowsVisible(5)
	prompt := widget.NewMultiLineEntry()
	prompt.SetText(cfg.Prompt.Text)
	prompt.SetMinRowsVisible(3)

	latexOut := widget.NewEntry()
	latexOut.SetPlaceHolder("LaTeX appears here")
	latexOut.Disable()

	var convertBtn *widget.Button
	convertBtn = widget.NewButton("Convert", func() {
		sub, err := sess.Capture(macros.Text, prompt.Text)
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		convertBtn.Disable()
		status.SetText("Converting…")
		go func() {
			res, err := sess.Send(context.Background(), sub)
			fyne.Do(func() {
				convertBtn.Enable()
				if err != nil {
					status.SetText("Conversion failed.")
					dialog.ShowInformation("Conversion failed", err.Error(), w)
					return
				}
				latexOut.SetText(res.Latex)
				status.SetText("Converted.")
			})
		}()
	})
	convertBtn.Importance = widget.HighImportance

	copyBtn := widget.NewButton("Copy", func() {
		latex := sess.Result().Latex
		if latex == "" {
			dialog.ShowInformation("Copy", "Nothing converted yet.", w)
			return
		}
		w.Clipboard().SetContent(latex)
		dialog.ShowInformation("Copy", "LaTeX copied to the clipboard.", w)
	})
	previewBtn := widget.NewButton("Preview", func() {
		raw := sess.PreviewURL()
		if raw == "" {
			dialog.ShowInformation("Preview", "Nothing converted yet.", w)
			return
		}
		u, err := url.Parse(raw)
		if err == nil {
			err = fyneApp.OpenURL(u)
		}
		if err != nil {
			l.Error("open preview failed", slog.Any("err", err))
			dialog.ShowError(err, w)
		}
	})

	toolbar := container.NewHBox(undoBtn, redoBtn, clearBtn, eraserBtn)
	form := widget.NewForm(
		widget.NewFormItem("Macros", macros),
		widget.NewFormItem("Prompt", prompt),
	)
	result := container.NewBorder(nil, nil, nil, container.NewHBox(convertBtn, copyBtn, previewBtn), latexOut)
	root := container.NewBorder(
		toolbar,
		container.NewVBox(form, result, status),
		nil, nil,
		container.NewCenter(sketch),
	)
	w.SetContent(root)

	// Keyboard shortcuts
	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyZ, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) { sess.Board.Undo() })
	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyY, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) { sess.Board.Redo() })
	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyE, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) { sess.Board.ToggleEraser() })

	exportPNGItem := fyne.NewMenuItem("Export as PNG…", func() {
		saveDialog(w, "drawing.png", ".png", func(path string) error { return sess.ExportPNG(path) }, status)
	})
	exportPDFItem := fyne.NewMenuItem("Export as PDF…", func() {
		saveDialog(w, "drawing.pdf", ".pdf", func(path string) error { return sess.ExportPDF(path) }, status)
	})
	fileMenu := fyne.NewMenu("File", exportPNGItem, exportPDFItem)
	editMenu := fyne.NewMenu("Edit",
		fyne.NewMenuItem("Undo", func() { sess.Board.Undo() }),
		fyne.NewMenuItem("Redo", func() { sess.Board.Redo() }),
		fyne.NewMenuItem("Clear", func() { sess.Board.Clear() }),
		fyne.NewMenuItem("Toggle Eraser", func() { sess.Board.ToggleEraser() }),
	)
	aboutItem := fyne.NewMenuItem("About mathsketch", func() {
		info := fmt.Sprintf("%s\nOS: %s\nArch: %s\nGo: %s\nBackend: %s",
			version.String(), runtime.GOOS, runtime.GOARCH, runtime.Version(), cfg.Backend.BaseURL)
		dialog.ShowInformation("About", info, w)
	})
	w.SetMainMenu(fyne.NewMainMenu(fileMenu, editMenu, fyne.NewMenu("About", aboutItem)))

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		w.Close()
	})

	w.ShowAndRun()
	return nil
}

func saveDialog(w fyne.Window, name, ext string, write func(path string) error, status *widget.Label) {
	save := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		if uc == nil {
			return
		}
		outPath := uc.URI().Path()
		_ = uc.Close()
		if err := write(outPath); err != nil {
			dialog.ShowError(err, w)
			return
		}
		status.SetText("Exported to " + outPath)
	}, w)
	save.SetFileName(name)
	save.SetFilter(fstorage.NewExtensionFileFilter([]string{ext}))
	save.Show()
}

func setEnabled(b *widget.Button, on bool) {
	if on {
		b.Enable()
	} else {
		b.Disable()
	}
}

func crashDir() string {
	if p, err := config.ConfigPath(); err == nil {
		return filepath.Join(filepath.Dir(p), "crash")
	}
	return os.TempDir()
}

// SketchCanvas shows the board raster and feeds it pointer input. A press
// starts a stroke at the press point, drag events extend it, and release or
// leaving the widget ends it. A tap without movement commits a one-point dot.
type SketchCanvas struct {
	widget.BaseWidget
	sess *Session
	img  *canvas.Image

	// OnChange runs on the UI thread after the board changed.
	OnChange func()
}

var (
	_ desktop.Mouseable = (*SketchCanvas)(nil)
	_ desktop.Hoverable = (*SketchCanvas)(nil)
	_ fyne.Draggable    = (*SketchCanvas)(nil)
)

// NewSketchCanvas wraps the session's board and repaints on every board change.
func NewSketchCanvas(sess *Session) *SketchCanvas {
	bw, bh := sess.Board.Size()
	img := canvas.NewImageFromImage(sess.Board.Image())
	img.FillMode = canvas.ImageFillStretch
	img.ScaleMode = canvas.ImageScalePixels
	img.SetMinSize(fyne.NewSize(float32(bw), float32(bh)))

	sc := &SketchCanvas{sess: sess, img: img}
	sess.Board.OnChange = sc.boardChanged
	sc.ExtendBaseWidget(sc)
	return sc
}

func (sc *SketchCanvas) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(sc.img)
}

func (sc *SketchCanvas) MinSize() fyne.Size {
	bw, bh := sc.sess.Board.Size()
	return fyne.NewSize(float32(bw), float32(bh))
}

func (sc *SketchCanvas) boardChanged() {
	sc.img.Image = sc.sess.Board.Image()
	sc.img.Refresh()
	if sc.OnChange != nil {
		sc.OnChange()
	}
}

func (sc *SketchCanvas) toBoard(pos fyne.Position) domain.Point {
	bw, bh := sc.sess.Board.Size()
	return widgetToBoard(pos, sc.Size(), bw, bh)
}

// widgetToBoard maps a widget-local position into board pixels.
func widgetToBoard(pos fyne.Position, size fyne.Size, bw, bh int) domain.Point {
	sx, sy := float32(1), float32(1)
	if size.Width > 0 && size.Height > 0 {
		sx = float32(bw) / size.Width
		sy = float32(bh) / size.Height
	}
	return domain.Point{X: float64(pos.X * sx), Y: float64(pos.Y * sy)}
}

func (sc *SketchCanvas) MouseDown(e *desktop.MouseEvent) {
	if e.Button != desktop.MouseButtonPrimary {
		return
	}
	p := sc.toBoard(e.Position)
	if err := sc.sess.Board.PointerDown(p); err != nil {
		return
	}
	sc.sess.Board.PointerMove(p)
}

func (sc *SketchCanvas) MouseUp(*desktop.MouseEvent) { sc.sess.Board.PointerUp() }

func (sc *SketchCanvas) Dragged(e *fyne.DragEvent) { sc.sess.Board.PointerMove(sc.toBoard(e.Position)) }

func (sc *SketchCanvas) DragEnd() { sc.sess.Board.PointerUp() }

func (sc *SketchCanvas) MouseIn(*desktop.MouseEvent)    {}
func (sc *SketchCanvas) MouseMoved(*desktop.MouseEvent) {}
func (sc *SketchCanvas) MouseOut()                      { sc.sess.Board.PointerLeave() }
