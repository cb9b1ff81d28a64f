package ui

import (
	"errors"
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"panesync/internal/config"
)

var errNoProfile = errors.New("Aucun profil sélectionné")

// ProfilesDialog edits saved host profiles.
type ProfilesDialog struct {
	window    fyne.Window
	configMgr *config.ConfigManager
	creds     *config.CredentialStore
	known     *config.KnownHosts
	onUpdate  func()

	profileList *widget.List
	profiles    []config.HostProfile
	selected    int

	nameEntry        *widget.Entry
	protocolSelect   *widget.Select
	hostEntry        *widget.Entry
	portEntry        *widget.Entry
	usernameEntry    *widget.Entry
	privateKeyEntry  *widget.Entry
	remoteDirEntry   *widget.Entry
	encodingEntry    *widget.Entry
	tlsImplicitCheck *widget.Check
	tlsSkipCheck     *widget.Check
}

// NewProfilesDialog creates a new profiles management dialog. creds and
// known may be nil.
func NewProfilesDialog(parent fyne.Window, configMgr *config.ConfigManager, creds *config.CredentialStore, known *config.KnownHosts, onUpdate func()) *ProfilesDialog {
	return &ProfilesDialog{
		window:    parent,
		configMgr: configMgr,
		creds:     creds,
		known:     known,
		onUpdate:  onUpdate,
		selected:  -1,
	}
}

// Show displays the profiles dialog.
func (pd *ProfilesDialog) Show() {
	pd.profiles = pd.configMgr.GetProfiles()

	pd.profileList = widget.NewList(
		func() int { return len(pd.profiles) },
		func() fyne.CanvasObject { return widget.NewLabel("Profil") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id >= len(pd.profiles) {
				return
			}
			obj.(*widget.Label).SetText(profileLabel(pd.profiles[id]))
		},
	)
	pd.profileList.OnSelected = func(id widget.ListItemID) {
		pd.selected = id
		pd.loadProfile(id)
	}

	pd.nameEntry = widget.NewEntry()
	pd.nameEntry.SetPlaceHolder("Nom du profil")
	pd.protocolSelect = widget.NewSelect(protocolLabels, nil)
	pd.hostEntry = widget.NewEntry()
	pd.hostEntry.SetPlaceHolder("nom d'hôte")
	pd.portEntry = widget.NewEntry()
	pd.portEntry.SetPlaceHolder("22")
	pd.usernameEntry = widget.NewEntry()
	pd.usernameEntry.SetPlaceHolder("nom d'utilisateur")
	pd.privateKeyEntry = widget.NewEntry()
	pd.privateKeyEntry.SetPlaceHolder("~/.ssh/id_ed25519")
	pd.remoteDirEntry = widget.NewEntry()
	pd.remoteDirEntry.SetPlaceHolder("/home/utilisateur")
	pd.encodingEntry = widget.NewEntry()
	pd.encodingEntry.SetPlaceHolder("utf-8")
	pd.tlsImplicitCheck = widget.NewCheck("TLS implicite", nil)
	pd.tlsSkipCheck = widget.NewCheck("Ne pas vérifier le certificat", nil)

	form := container.NewVBox(
		widget.NewLabel("Nom :"), pd.nameEntry,
		widget.NewLabel("Protocole :"), pd.protocolSelect,
		widget.NewLabel("Hôte :"), pd.hostEntry,
		widget.NewLabel("Port :"), pd.portEntry,
		widget.NewLabel("Nom d'utilisateur :"), pd.usernameEntry,
		widget.NewLabel("Clé privée :"), pd.privateKeyEntry,
		widget.NewLabel("Répertoire distant :"), pd.remoteDirEntry,
		widget.NewLabel("Encodage des noms :"), pd.encodingEntry,
		pd.tlsImplicitCheck, pd.tlsSkipCheck,
		widget.NewSeparator(),
		container.NewHBox(
			widget.NewButton("Enregistrer", pd.saveProfile),
			widget.NewButton("Supprimer", pd.deleteProfile),
		),
		container.NewHBox(
			widget.NewButton("Effacer mot de passe", pd.clearPassword),
			widget.NewButton("Oublier la clé d'hôte", pd.forgetHostKey),
		),
	)

	formScroll := container.NewVScroll(form)
	formScroll.SetMinSize(fyne.NewSize(300, 400))

	listPanel := container.NewBorder(widget.NewLabel("Profils enregistrés"), nil, nil, nil, pd.profileList)
	split := container.NewHSplit(listPanel, formScroll)
	split.SetOffset(0.4)

	dlg := dialog.NewCustom("Gestion des profils", "Fermer", split, pd.window)
	dlg.Resize(fyne.NewSize(720, 520))
	dlg.Show()
}

// profileLabel is the list caption of p.
func profileLabel(p config.HostProfile) string {
	if p.Username == "" {
		return fmt.Sprintf("%s (%s://%s)", p.Name, p.Protocol, p.Host)
	}
	return fmt.Sprintf("%s (%s://%s@%s)", p.Name, p.Protocol, p.Username, p.Host)
}

func (pd *ProfilesDialog) current() (config.HostProfile, error) {
	if pd.selected < 0 || pd.selected >= len(pd.profiles) {
		return config.HostProfile{}, errNoProfile
	}
	return pd.profiles[pd.selected], nil
}

func (pd *ProfilesDialog) loadProfile(index int) {
	if index < 0 || index >= len(pd.profiles) {
		return
	}
	p := pd.profiles[index]
	pd.nameEntry.SetText(p.Name)
	pd.protocolSelect.SetSelectedIndex(protocolIndex(p.Protocol))
	pd.hostEntry.SetText(p.Host)
	pd.portEntry.SetText(strconv.Itoa(p.Port))
	pd.usernameEntry.SetText(p.Username)
	pd.privateKeyEntry.SetText(p.PrivateKeyPath)
	pd.remoteDirEntry.SetText(p.RemoteDir)
	pd.encodingEntry.SetText(p.FilenameEncoding)
	pd.tlsImplicitCheck.SetChecked(p.TLSImplicit)
	pd.tlsSkipCheck.SetChecked(p.TLSSkipVerify)
}

func (pd *ProfilesDialog) reload() {
	pd.profiles = pd.configMgr.GetProfiles()
	pd.profileList.Refresh()
	if pd.onUpdate != nil {
		pd.onUpdate()
	}
}

func (pd *ProfilesDialog) saveProfile() {
	old, err := pd.current()
	if err != nil {
		dialog.ShowError(err, pd.window)
		return
	}

	port := pd.portEntry.Text
	if port == "" {
		port = "0"
	}
	p, err := profileFromForm(old.ID, pd.nameEntry.Text, pd.protocolSelect.Selected,
		pd.hostEntry.Text, port, pd.usernameEntry.Text, pd.privateKeyEntry.Text,
		pd.remoteDirEntry.Text, pd.encodingEntry.Text,
		pd.tlsImplicitCheck.Checked, pd.tlsSkipCheck.Checked)
	if err != nil {
		dialog.ShowError(err, pd.window)
		return
	}
	p.LastUsed = old.LastUsed

	if err := pd.configMgr.UpdateProfile(p); err != nil {
		dialog.ShowError(err, pd.window)
		return
	}
	pd.reload()
	dialog.ShowInformation("Succès", "Profil enregistré", pd.window)
}

func (pd *ProfilesDialog) deleteProfile() {
	p, err := pd.current()
	if err != nil {
		dialog.ShowError(err, pd.window)
		return
	}

	dialog.ShowConfirm("Supprimer le profil",
		fmt.Sprintf("Êtes-vous sûr de vouloir supprimer '%s' ?", p.Name),
		func(confirmed bool) {
			if !confirmed {
				return
			}
			if pd.creds != nil {
				_ = pd.creds.DeletePassword(p.ID)
			}
			if err := pd.configMgr.DeleteProfile(p.ID); err != nil {
				dialog.ShowError(err, pd.window)
				return
			}
			pd.selected = -1
			pd.profileList.UnselectAll()
			pd.reload()
		}, pd.window)
}

func (pd *ProfilesDialog) clearPassword() {
	p, err := pd.current()
	if err != nil {
		dialog.ShowError(err, pd.window)
		return
	}
	if pd.creds == nil {
		dialog.ShowError(errors.New("Coffre de mots de passe non disponible"), pd.window)
		return
	}
	if err := pd.creds.DeletePassword(p.ID); err != nil {
		dialog.ShowError(err, pd.window)
		return
	}
	dialog.ShowInformation("Succès", "Mot de passe enregistré effacé", pd.window)
}

func (pd *ProfilesDialog) forgetHostKey() {
	p, err := pd.current()
	if err != nil {
		dialog.ShowError(err, pd.window)
		return
	}
	if pd.known == nil || p.Protocol != "sftp" {
		return
	}
	if err := pd.known.Remove(p.Host, p.Port); err != nil {
		dialog.ShowError(err, pd.window)
		return
	}
	dialog.ShowInformation("Succès", "Empreinte de l'hôte oubliée", pd.window)
}
