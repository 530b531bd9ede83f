package env

import "fmt"

var symbols = [...]string{
	"", "H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba",
}

// Symbol returns the element symbol for an atomic number, or "Z<n>"
// for numbers outside the table.
func Symbol(z int) string {
	if z > 0 && z < len(symbols) {
		return symbols[z]
	}
	return fmt.Sprintf("Z%d", z)
}
