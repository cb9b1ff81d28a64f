package ui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// ContextMenuItem represents a single menu item. A "-" label is a separator.
type ContextMenuItem struct {
	Label    string
	Icon     fyne.Resource
	Action   func()
	Disabled bool
}

// ContextMenu provides a popup context menu.
type ContextMenu struct {
	menu *fyne.Menu
}

// NewContextMenu creates a new context menu from items.
func NewContextMenu(items []ContextMenuItem) *ContextMenu {
	menuItems := make([]*fyne.MenuItem, 0, len(items))
	for _, item := range items {
		if item.Label == "-" {
			menuItems = append(menuItems, fyne.NewMenuItemSeparator())
			continue
		}
		mi := fyne.NewMenuItem(item.Label, item.Action)
		mi.Icon = item.Icon
		mi.Disabled = item.Disabled || item.Action == nil
		menuItems = append(menuItems, mi)
	}
	return &ContextMenu{menu: fyne.NewMenu("", menuItems...)}
}

// ShowAtPosition displays the context menu at the given canvas position.
func (cm *ContextMenu) ShowAtPosition(canvas fyne.Canvas, pos fyne.Position) {
	widget.ShowPopUpMenuAtPosition(cm.menu, canvas, pos)
}

// MenuActions are the handlers a pane offers to its context menu. A nil
// handler drops or disables its item.
type MenuActions struct {
	Open        func()
	Transfer    func()
	Copy        func()
	Cut         func()
	Paste       func()
	Rename      func()
	Delete      func()
	Chmod       func()
	Properties  func()
	NewFolder   func()
	CopyPath    func()
	Refresh     func()
	SelectAll   func()
	CanPaste    bool
	IsDir       bool
	Connected   bool
	Selection   int
	OtherSideOK bool
}

// FileContextMenuItems returns the menu shown on a file row.
func FileContextMenuItems(a MenuActions) []ContextMenuItem {
	items := make([]ContextMenuItem, 0, 16)

	if a.IsDir && a.Open != nil {
		items = append(items, ContextMenuItem{Label: "Ouvrir", Icon: theme.FolderOpenIcon(), Action: a.Open})
	}
	if a.Transfer != nil {
		items = append(items, ContextMenuItem{
			Label:    "Transférer vers l'autre panneau",
			Icon:     theme.MailForwardIcon(),
			Action:   a.Transfer,
			Disabled: !a.OtherSideOK,
		})
	}

	items = append(items,
		ContextMenuItem{Label: "-"},
		ContextMenuItem{Label: "Copier", Icon: theme.ContentCopyIcon(), Action: a.Copy},
		ContextMenuItem{Label: "Couper", Icon: theme.ContentCutIcon(), Action: a.Cut},
		ContextMenuItem{Label: "Coller", Icon: theme.ContentPasteIcon(), Action: a.Paste, Disabled: !a.CanPaste},
		ContextMenuItem{Label: "-"},
	)

	if a.Rename != nil {
		items = append(items, ContextMenuItem{Label: "Renommer...", Action: a.Rename, Disabled: a.Selection > 1})
	}
	if a.Delete != nil {
		items = append(items, ContextMenuItem{Label: "Supprimer", Icon: theme.DeleteIcon(), Action: a.Delete})
	}
	if a.Chmod != nil {
		items = append(items, ContextMenuItem{Label: "Permissions...", Action: a.Chmod, Disabled: a.Selection > 1})
	}
	if a.Properties != nil {
		items = append(items, ContextMenuItem{Label: "Propriétés", Icon: theme.InfoIcon(), Action: a.Properties})
	}

	items = append(items, ContextMenuItem{Label: "-"})
	if a.CopyPath != nil {
		items = append(items, ContextMenuItem{Label: "Copier le chemin", Action: a.CopyPath})
	}
	if a.Refresh != nil {
		items = append(items, ContextMenuItem{Label: "Actualiser", Icon: theme.ViewRefreshIcon(), Action: a.Refresh})
	}
	return items
}

// EmptyContextMenuItems returns the menu shown on the pane background.
func EmptyContextMenuItems(a MenuActions) []ContextMenuItem {
	items := make([]ContextMenuItem, 0, 6)
	if a.Paste != nil {
		items = append(items, ContextMenuItem{Label: "Coller", Icon: theme.ContentPasteIcon(), Action: a.Paste, Disabled: !a.CanPaste})
	}
	if a.SelectAll != nil {
		items = append(items, ContextMenuItem{Label: "Tout sélectionner", Action: a.SelectAll})
	}
	items = append(items, ContextMenuItem{Label: "-"})
	if a.NewFolder != nil {
		items = append(items, ContextMenuItem{Label: "Nouveau dossier...", Icon: theme.FolderNewIcon(), Action: a.NewFolder, Disabled: !a.Connected})
	}
	if a.Refresh != nil {
		items = append(items, ContextMenuItem{Label: "Actualiser", Icon: theme.ViewRefreshIcon(), Action: a.Refresh, Disabled: !a.Connected})
	}
	return items
}
