package gxserialbridge

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Console banner lines. Numeric values are passed preformatted so the
// printer does not apply locale digit grouping to baud rates and ports.
//
//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "msg.device_available", "Virtual serial device available at: %s")
	message.SetString(language.AmericanEnglish, "msg.actual_device", "  (actual device: %s)")
	message.SetString(language.AmericanEnglish, "msg.connect_using", "You can connect to it using:")
	message.SetString(language.AmericanEnglish, "msg.other_software", "  or any other serial communication software")
	message.SetString(language.AmericanEnglish, "msg.forwarding_to", "Forwarding to %s")
	message.SetString(language.AmericanEnglish, "msg.press_ctrl_c_client", "Press Ctrl+C to stop the client")
	message.SetString(language.AmericanEnglish, "msg.server_listening", "Serving %s on port %s (at most %s clients)")
	message.SetString(language.AmericanEnglish, "msg.press_ctrl_c_server", "Press Ctrl+C to stop the server")
	message.SetString(language.AmericanEnglish, "msg.echo_running", "Echo server is running")
	message.SetString(language.AmericanEnglish, "msg.echo_device", "Device: %s")
	message.SetString(language.AmericanEnglish, "msg.echo_baudrate", "Baud rate: %s")
	message.SetString(language.AmericanEnglish, "msg.press_ctrl_c", "Press Ctrl+C to exit")
	message.SetString(language.AmericanEnglish, "msg.available_ports", "Available serial ports: %s")

	// --- German (de) ---
	message.SetString(language.German, "msg.device_available", "Virtuelles serielles Gerät verfügbar unter: %s")
	message.SetString(language.German, "msg.actual_device", "  (tatsächliches Gerät: %s)")
	message.SetString(language.German, "msg.connect_using", "Verbindung herstellen mit:")
	message.SetString(language.German, "msg.other_software", "  oder einer anderen seriellen Kommunikationssoftware")
	message.SetString(language.German, "msg.forwarding_to", "Weiterleitung an %s")
	message.SetString(language.German, "msg.press_ctrl_c_client", "Strg+C beendet den Client")
	message.SetString(language.German, "msg.server_listening", "%s wird auf Port %s bereitgestellt (höchstens %s Clients)")
	message.SetString(language.German, "msg.press_ctrl_c_server", "Strg+C beendet den Server")
	message.SetString(language.German, "msg.echo_running", "Echo-Server läuft")
	message.SetString(language.German, "msg.echo_device", "Gerät: %s")
	message.SetString(language.German, "msg.echo_baudrate", "Baudrate: %s")
	message.SetString(language.German, "msg.press_ctrl_c", "Strg+C zum Beenden")
	message.SetString(language.German, "msg.available_ports", "Verfügbare serielle Ports: %s")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "msg.device_available", "Virtuaalinen sarjalaite käytettävissä: %s")
	message.SetString(language.Finnish, "msg.actual_device", "  (todellinen laite: %s)")
	message.SetString(language.Finnish, "msg.connect_using", "Voit yhdistää siihen esimerkiksi:")
	message.SetString(language.Finnish, "msg.other_software", "  tai millä tahansa muulla sarjaliikenneohjelmalla")
	message.SetString(language.Finnish, "msg.forwarding_to", "Välitetään kohteeseen %s")
	message.SetString(language.Finnish, "msg.press_ctrl_c_client", "Lopeta asiakas painamalla Ctrl+C")
	message.SetString(language.Finnish, "msg.server_listening", "%s jaetaan portissa %s (enintään %s asiakasta)")
	message.SetString(language.Finnish, "msg.press_ctrl_c_server", "Lopeta palvelin painamalla Ctrl+C")
	message.SetString(language.Finnish, "msg.echo_running", "Kaikupalvelin on käynnissä")
	message.SetString(language.Finnish, "msg.echo_device", "Laite: %s")
	message.SetString(language.Finnish, "msg.echo_baudrate", "Nopeus: %s")
	message.SetString(language.Finnish, "msg.press_ctrl_c", "Lopeta painamalla Ctrl+C")
	message.SetString(language.Finnish, "msg.available_ports", "Käytettävissä olevat sarjaportit: %s")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "msg.device_available", "Virtuell seriell enhet tillgänglig på: %s")
	message.SetString(language.Swedish, "msg.actual_device", "  (faktisk enhet: %s)")
	message.SetString(language.Swedish, "msg.connect_using", "Du kan ansluta till den med:")
	message.SetString(language.Swedish, "msg.other_software", "  eller annan programvara för seriell kommunikation")
	message.SetString(language.Swedish, "msg.forwarding_to", "Vidarebefordrar till %s")
	message.SetString(language.Swedish, "msg.press_ctrl_c_client", "Tryck Ctrl+C för att stoppa klienten")
	message.SetString(language.Swedish, "msg.server_listening", "Delar %s på port %s (högst %s klienter)")
	message.SetString(language.Swedish, "msg.press_ctrl_c_server", "Tryck Ctrl+C för att stoppa servern")
	message.SetString(language.Swedish, "msg.echo_running", "Ekoservern körs")
	message.SetString(language.Swedish, "msg.echo_device", "Enhet: %s")
	message.SetString(language.Swedish, "msg.echo_baudrate", "Överföringshastighet: %s")
	message.SetString(language.Swedish, "msg.press_ctrl_c", "Tryck Ctrl+C för att avsluta")
	message.SetString(language.Swedish, "msg.available_ports", "Tillgängliga seriella portar: %s")
}

var supportedLanguages = []language.Tag{
	language.AmericanEnglish,
	language.German,
	language.Finnish,
	language.Swedish,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// newPrinter returns a printer for the closest supported language.
// Unsupported languages fall back to English.
func newPrinter(tag language.Tag) *message.Printer {
	_, i, _ := languageMatcher.Match(tag)
	return message.NewPrinter(supportedLanguages[i])
}
