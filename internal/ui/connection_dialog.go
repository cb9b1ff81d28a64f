package ui

import (
	"errors"
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"panesync/internal/config"
	"panesync/internal/connection"
	"panesync/internal/entry"
)

const (
	choiceLocal = "Ordinateur local"
	choiceNew   = "-- Nouvelle connexion --"
)

var protocolLabels = []string{"SFTP", "FTPS", "FTP"}

// Error messages
var (
	errMissingHost     = errors.New("L'hôte est requis")
	errMissingUsername = errors.New("Le nom d'utilisateur est requis")
	errInvalidPort     = errors.New("Numéro de port invalide (1-65535)")
)

// PasswordSink keeps passwords typed in the dialog.
type PasswordSink interface {
	SetSessionPassword(hostID, password string)
}

// ConnectionDialog binds one pane to the local machine or a saved host.
type ConnectionDialog struct {
	window    fyne.Window
	side      entry.Side
	configMgr *config.ConfigManager
	creds     *config.CredentialStore
	session   PasswordSink
	onConnect func(entry.Side, connection.Target)

	selectedProfileID string

	// Form fields
	profileSelect     *widget.Select
	deleteProfileBtn  *widget.Button
	protocolSelect    *widget.Select
	hostEntry         *widget.Entry
	portEntry         *widget.Entry
	usernameEntry     *widget.Entry
	passwordEntry     *widget.Entry
	privateKeyEntry   *widget.Entry
	privateKeyBtn     *widget.Button
	remoteDirEntry    *widget.Entry
	encodingEntry     *widget.Entry
	tlsImplicitCheck  *widget.Check
	tlsSkipCheck      *widget.Check
	profileNameEntry  *widget.Entry
	savePasswordCheck *widget.Check
	remoteForm        *fyne.Container
}

// NewConnectionDialog creates a dialog for side. creds may be nil when no
// master password was given.
func NewConnectionDialog(parent fyne.Window, side entry.Side, configMgr *config.ConfigManager, creds *config.CredentialStore, session PasswordSink, onConnect func(entry.Side, connection.Target)) *ConnectionDialog {
	return &ConnectionDialog{
		window:    parent,
		side:      side,
		configMgr: configMgr,
		creds:     creds,
		session:   session,
		onConnect: onConnect,
	}
}

// Show displays the connection dialog.
func (cd *ConnectionDialog) Show() {
	cd.hostEntry = widget.NewEntry()
	cd.hostEntry.SetPlaceHolder("nom d'hôte ou adresse IP")
	cd.portEntry = widget.NewEntry()
	cd.portEntry.SetText("22")
	cd.usernameEntry = widget.NewEntry()
	cd.usernameEntry.SetPlaceHolder("nom d'utilisateur")
	cd.passwordEntry = widget.NewPasswordEntry()
	cd.passwordEntry.SetPlaceHolder("mot de passe")

	cd.privateKeyEntry = widget.NewEntry()
	cd.privateKeyEntry.SetPlaceHolder("~/.ssh/id_ed25519 (optionnel)")
	cd.privateKeyBtn = widget.NewButton("Parcourir...", func() {
		dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
			if err != nil || reader == nil {
				return
			}
			cd.privateKeyEntry.SetText(reader.URI().Path())
			reader.Close()
		}, cd.window).Show()
	})

	cd.remoteDirEntry = widget.NewEntry()
	cd.remoteDirEntry.SetPlaceHolder("/home/utilisateur (optionnel)")
	cd.encodingEntry = widget.NewEntry()
	cd.encodingEntry.SetPlaceHolder("utf-8")
	cd.tlsImplicitCheck = widget.NewCheck("TLS implicite (port 990)", func(on bool) {
		if on {
			cd.portEntry.SetText("990")
		} else {
			cd.portEntry.SetText("21")
		}
	})
	cd.tlsSkipCheck = widget.NewCheck("Ne pas vérifier le certificat", nil)

	cd.profileNameEntry = widget.NewEntry()
	cd.profileNameEntry.SetPlaceHolder("Nom du profil")
	cd.savePasswordCheck = widget.NewCheck("Mémoriser le mot de passe", nil)
	if cd.creds == nil {
		cd.savePasswordCheck.Disable()
	}

	cd.protocolSelect = widget.NewSelect(protocolLabels, cd.onProtocolSelected)
	cd.profileSelect = widget.NewSelect(cd.profileChoices(), cd.onProfileSelected)
	cd.deleteProfileBtn = widget.NewButtonWithIcon("", theme.DeleteIcon(), cd.deleteSelectedProfile)
	cd.deleteProfileBtn.Importance = widget.DangerImportance
	cd.deleteProfileBtn.Disable()

	cd.remoteForm = container.NewVBox(
		widget.NewLabel("Protocole :"), cd.protocolSelect,
		widget.NewLabel("Hôte :"), cd.hostEntry,
		widget.NewLabel("Port :"), cd.portEntry,
		cd.tlsImplicitCheck, cd.tlsSkipCheck,
		widget.NewSeparator(),
		widget.NewLabel("Nom d'utilisateur :"), cd.usernameEntry,
		widget.NewLabel("Mot de passe :"), cd.passwordEntry,
		widget.NewLabel("Clé privée (SSH) :"),
		container.NewBorder(nil, nil, nil, cd.privateKeyBtn, cd.privateKeyEntry),
		widget.NewSeparator(),
		widget.NewLabel("Répertoire de départ :"), cd.remoteDirEntry,
		widget.NewLabel("Encodage des noms :"), cd.encodingEntry,
		widget.NewSeparator(),
		widget.NewLabel("Nom du profil :"), cd.profileNameEntry,
		cd.savePasswordCheck,
	)

	cd.protocolSelect.SetSelectedIndex(0)
	cd.profileSelect.SetSelected(choiceLocal)

	form := container.NewVBox(
		widget.NewLabel("Panneau : "+sideLabel(cd.side)),
		widget.NewLabel("Profil :"),
		container.NewBorder(nil, nil, nil, cd.deleteProfileBtn, cd.profileSelect),
		widget.NewSeparator(),
		cd.remoteForm,
	)

	scroll := container.NewVScroll(form)
	scroll.SetMinSize(fyne.NewSize(380, 500))

	dlg := dialog.NewCustomConfirm("Connexion", "Connexion", "Annuler", scroll,
		func(confirmed bool) {
			if confirmed {
				cd.handleConnect()
			}
		}, cd.window)
	dlg.Resize(fyne.NewSize(420, 600))
	dlg.Show()
}

func (cd *ConnectionDialog) profileChoices() []string {
	profiles := cd.configMgr.GetProfiles()
	choices := make([]string, 0, len(profiles)+2)
	choices = append(choices, choiceLocal, choiceNew)
	for _, p := range profiles {
		choices = append(choices, p.Name)
	}
	return choices
}

func (cd *ConnectionDialog) onProfileSelected(selected string) {
	switch selected {
	case choiceLocal:
		cd.selectedProfileID = ""
		cd.deleteProfileBtn.Disable()
		cd.remoteForm.Hide()
		return
	case choiceNew:
		cd.selectedProfileID = ""
		cd.deleteProfileBtn.Disable()
		cd.clearForm()
		cd.remoteForm.Show()
		return
	}

	for _, p := range cd.configMgr.GetProfiles() {
		if p.Name == selected {
			cd.loadProfile(p)
			cd.deleteProfileBtn.Enable()
			cd.remoteForm.Show()
			return
		}
	}
}

// protocolIndex maps a stored protocol to its select index.
func protocolIndex(protocol string) int {
	switch protocol {
	case "ftps":
		return 1
	case "ftp":
		return 2
	}
	return 0
}

// protocolName maps a select label to the stored protocol.
func protocolName(label string) string {
	switch label {
	case "FTPS":
		return "ftps"
	case "FTP":
		return "ftp"
	}
	return "sftp"
}

func (cd *ConnectionDialog) loadProfile(p config.HostProfile) {
	cd.selectedProfileID = p.ID
	cd.protocolSelect.SetSelectedIndex(protocolIndex(p.Protocol))
	cd.hostEntry.SetText(p.Host)
	cd.portEntry.SetText(strconv.Itoa(p.Port))
	cd.usernameEntry.SetText(p.Username)
	cd.remoteDirEntry.SetText(p.RemoteDir)
	cd.encodingEntry.SetText(p.FilenameEncoding)
	cd.tlsImplicitCheck.SetChecked(p.TLSImplicit)
	cd.tlsSkipCheck.SetChecked(p.TLSSkipVerify)
	cd.privateKeyEntry.SetText(p.PrivateKeyPath)
	cd.profileNameEntry.SetText(p.Name)
	cd.passwordEntry.SetText("")
	cd.savePasswordCheck.SetChecked(cd.creds != nil && cd.creds.HasPassword(p.ID))
}

func (cd *ConnectionDialog) clearForm() {
	cd.protocolSelect.SetSelectedIndex(0)
	cd.hostEntry.SetText("")
	cd.portEntry.SetText("22")
	cd.usernameEntry.SetText("")
	cd.passwordEntry.SetText("")
	cd.privateKeyEntry.SetText("")
	cd.remoteDirEntry.SetText("")
	cd.encodingEntry.SetText("")
	cd.tlsImplicitCheck.SetChecked(false)
	cd.tlsSkipCheck.SetChecked(false)
	cd.profileNameEntry.SetText("")
	cd.savePasswordCheck.SetChecked(false)
}

func (cd *ConnectionDialog) onProtocolSelected(selected string) {
	switch selected {
	case "SFTP":
		cd.portEntry.SetText("22")
		cd.tlsImplicitCheck.Hide()
		cd.tlsSkipCheck.Hide()
		cd.privateKeyEntry.Show()
		cd.privateKeyBtn.Show()
	case "FTPS":
		if cd.tlsImplicitCheck.Checked {
			cd.portEntry.SetText("990")
		} else {
			cd.portEntry.SetText("21")
		}
		cd.tlsImplicitCheck.Show()
		cd.tlsSkipCheck.Show()
		cd.privateKeyEntry.Hide()
		cd.privateKeyBtn.Hide()
	case "FTP":
		cd.portEntry.SetText("21")
		cd.tlsImplicitCheck.Hide()
		cd.tlsSkipCheck.Hide()
		cd.privateKeyEntry.Hide()
		cd.privateKeyBtn.Hide()
	}
}

// profileFromForm validates the form fields into a profile.
func profileFromForm(id, name, protocolLabel, host, port, user, key, dir, encoding string, implicit, skipVerify bool) (config.HostProfile, error) {
	if host == "" {
		return config.HostProfile{}, errMissingHost
	}
	protocol := protocolName(protocolLabel)
	if user == "" && protocol == "sftp" {
		return config.HostProfile{}, errMissingUsername
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return config.HostProfile{}, errInvalidPort
	}
	if name == "" {
		name = host
		if user != "" {
			name = fmt.Sprintf("%s@%s", user, host)
		}
	}
	p := config.HostProfile{
		ID:               id,
		Name:             name,
		Protocol:         protocol,
		Host:             host,
		Port:             n,
		Username:         user,
		RemoteDir:        dir,
		FilenameEncoding: encoding,
	}
	if protocol == "sftp" {
		p.PrivateKeyPath = key
	}
	if protocol == "ftps" {
		p.TLSImplicit = implicit
		p.TLSSkipVerify = skipVerify
	}
	return p, p.Validate()
}

func (cd *ConnectionDialog) handleConnect() {
	if cd.profileSelect.Selected == choiceLocal {
		cd.onConnect(cd.side, connection.Target{Local: true, StartDir: cd.configMgr.Get().DefaultLocalDir})
		return
	}

	profile, err := profileFromForm(cd.selectedProfileID, cd.profileNameEntry.Text,
		cd.protocolSelect.Selected, cd.hostEntry.Text, cd.portEntry.Text,
		cd.usernameEntry.Text, cd.privateKeyEntry.Text, cd.remoteDirEntry.Text,
		cd.encodingEntry.Text, cd.tlsImplicitCheck.Checked, cd.tlsSkipCheck.Checked)
	if err != nil {
		dialog.ShowError(err, cd.window)
		return
	}

	if profile.ID == "" {
		profile.ID, err = cd.configMgr.AddProfile(profile)
	} else {
		old, _ := cd.configMgr.GetProfile(profile.ID)
		profile.LastUsed = old.LastUsed
		err = cd.configMgr.UpdateProfile(profile)
	}
	if err != nil {
		dialog.ShowError(err, cd.window)
		return
	}

	if pw := cd.passwordEntry.Text; pw != "" {
		if cd.savePasswordCheck.Checked && cd.creds != nil {
			if err := cd.creds.SetPassword(profile.ID, pw); err != nil {
				dialog.ShowError(err, cd.window)
			}
		}
		cd.session.SetSessionPassword(profile.ID, pw)
	}

	cd.onConnect(cd.side, connection.Target{HostID: profile.ID, StartDir: profile.RemoteDir})
}

func (cd *ConnectionDialog) deleteSelectedProfile() {
	if cd.selectedProfileID == "" {
		return
	}
	profile, ok := cd.configMgr.GetProfile(cd.selectedProfileID)
	if !ok {
		return
	}

	dialog.ShowConfirm("Supprimer le profil",
		fmt.Sprintf("Supprimer le profil '%s' ?", profile.Name),
		func(confirmed bool) {
			if !confirmed {
				return
			}
			if cd.creds != nil {
				_ = cd.creds.DeletePassword(profile.ID)
			}
			if err := cd.configMgr.DeleteProfile(profile.ID); err != nil {
				dialog.ShowError(err, cd.window)
				return
			}
			cd.profileSelect.Options = cd.profileChoices()
			cd.profileSelect.SetSelected(choiceNew)
		}, cd.window)
}
