package discovery

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Description field names extracted from a UPnP device description.
const (
	fieldManufacturer = "manufacturer"
	fieldFriendlyName = "friendlyName"
	fieldModelName    = "modelName"
	fieldUDN          = "UDN"
)

// Extract pulls the text content of the first occurrence of each requested
// element out of an XML payload, matching by local name only. Device
// descriptions may or may not declare the UPnP default namespace, and both
// forms must yield identical values, so namespace URIs and prefixes are
// ignored entirely.
//
// Malformed XML is not an error: extraction stops at the first parse
// failure and whatever fields were matched up to that point are returned.
// Missing fields are empty strings.
func Extract(payload []byte, fields ...string) map[string]string {
	wanted := make(map[string]bool, len(fields))
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		wanted[f] = true
		out[f] = ""
	}

	dec := xml.NewDecoder(bytes.NewReader(payload))
	remaining := len(wanted)

	for remaining > 0 {
		tok, err := dec.Token()
		if err != nil {
			// EOF or malformed input: return what we have.
			return out
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := start.Name.Local
		if !wanted[name] {
			continue
		}

		text, ok := captureText(dec, name)
		if !ok {
			return out
		}
		out[name] = strings.TrimSpace(text)
		delete(wanted, name)
		remaining--
	}

	return out
}

// captureText accumulates character data until the matching end element,
// skipping over any nested elements. Returns false if the document is
// malformed before the element closes.
func captureText(dec *xml.Decoder, name string) (string, bool) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return sb.String(), false
		}
		switch t := tok.(type) {
		case xml.CharData:
			if depth == 0 {
				sb.Write(t)
			}
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 && t.Name.Local == name {
				return sb.String(), true
			}
			if depth > 0 {
				depth--
			}
		}
	}
}

// deviceIDFromUDN strips the uuid: prefix from a UPnP UDN and returns the
// stable identifier portion. Speakers embed the device ID as the final
// segment of the UUID; the whole stripped value is unique either way.
func deviceIDFromUDN(udn string) string {
	id := strings.TrimPrefix(strings.TrimSpace(udn), "uuid:")
	if i := strings.LastIndex(id, "-"); i >= 0 && i+1 < len(id) {
		// Final segment is the device's own identifier when present.
		if seg := id[i+1:]; len(seg) == 12 {
			return seg
		}
	}
	return id
}
